// Package notify turns limit-flag changes in the live model into alerts and
// delivers them to external sinks.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"limitwatch/internal/domain"
	"limitwatch/internal/live"
	"limitwatch/internal/metrics"
)

// Kind classifies an alert.
type Kind string

const (
	KindLimitUp            Kind = "limit_up"
	KindLimitCleared       Kind = "limit_cleared"
	KindHitBeforeThreshold Kind = "hit_before_threshold"
)

// Alert is the JSON payload delivered to sinks.
type Alert struct {
	Kind          Kind      `json:"kind"`
	View          string    `json:"view"`
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Last          string    `json:"last,omitempty"`
	ChangePercent string    `json:"changePercent,omitempty"`
	At            time.Time `json:"at"`
}

// Sink delivers alerts.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
	Close() error
}

// Forwarder watches a live.Model and sends an alert to every sink when a
// row starts or stops trading at the limit, or latches before the
// threshold.
type Forwarder struct {
	model   *live.Model
	sinks   []Sink
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewForwarder creates a Forwarder.
func NewForwarder(model *live.Model, sinks []Sink, log *slog.Logger, m *metrics.Metrics) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Forwarder{model: model, sinks: sinks, log: log.With("component", "notify"), metrics: m, timeout: 5 * time.Second}
}

// Run forwards alerts until ctx is done or the model closes, then closes
// every sink.
func (f *Forwarder) Run(ctx context.Context) error {
	id, ch := f.model.Subscribe(1024)
	defer f.model.Unsubscribe(id)
	defer f.closeSinks()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			a, ok := f.alertFor(c)
			if !ok {
				continue
			}
			f.deliver(ctx, a)
		}
	}
}

func (f *Forwarder) alertFor(c domain.Change) (Alert, bool) {
	var kind Kind
	switch {
	case c.Kind == domain.ChangeHighlight && c.Highlighted:
		kind = KindLimitUp
	case c.Kind == domain.ChangeHighlight:
		kind = KindLimitCleared
	case c.Kind == domain.ChangeCell && c.Column == domain.ColumnHitBeforeThreshold && c.Text == domain.HitMarker:
		kind = KindHitBeforeThreshold
	default:
		return Alert{}, false
	}
	a := Alert{Kind: kind, View: c.View, Symbol: c.Symbol, At: c.At}
	if v, ok := f.model.View(c.View); ok {
		for _, r := range v.Rows {
			if r.Symbol == c.Symbol {
				a.Name = r.Cells[domain.ColumnName]
				a.Last = r.Cells[domain.ColumnLast]
				a.ChangePercent = r.Cells[domain.ColumnChangePercent]
				break
			}
		}
	}
	return a, true
}

func (f *Forwarder) deliver(ctx context.Context, a Alert) {
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Send(sctx, a)
		cancel()
		if err != nil {
			f.log.Error("sending alert", "sink", s.Name(), "kind", a.Kind, "symbol", a.Symbol, "error", err)
			f.metrics.Alerts.With("sink", s.Name(), "result", "error").Add(1)
			continue
		}
		f.metrics.Alerts.With("sink", s.Name(), "result", "ok").Add(1)
	}
}

func (f *Forwarder) closeSinks() {
	var errs []error
	for _, s := range f.sinks {
		errs = append(errs, s.Close())
	}
	if err := errors.Join(errs...); err != nil {
		f.log.Warn("closing alert sinks", "error", err)
	}
}

// LogSink writes alerts to a logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, a Alert) error {
	s.log.Info("limit alert",
		"kind", a.Kind,
		"view", a.View,
		"symbol", a.Symbol,
		"name", a.Name,
		"last", a.Last,
		"changePercent", a.ChangePercent,
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
