// Package engine dispatches decoded feed events to the view store and the
// limit flag engine. A single consumer goroutine owns all mutable state; the
// feed client's goroutines only decode and enqueue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"limitwatch/internal/domain"
	"limitwatch/internal/feed"
	"limitwatch/internal/limit"
	"limitwatch/internal/live"
	"limitwatch/internal/metrics"
	"limitwatch/internal/subscription"
	"limitwatch/internal/util"
	"limitwatch/internal/value"
	"limitwatch/internal/view"
)

// ErrDisconnected is returned by Run when the feed connection ends and is
// not restored.
var ErrDisconnected = errors.New("engine: feed disconnected")

// State is the connection state of the dispatcher.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ReconnectOptions controls redialing after a disconnect. MaxAttempts 0
// makes every disconnect terminal.
type ReconnectOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Options configures an Engine.
type Options struct {
	Threshold             time.Time // limit latch cutoff
	Queue                 QueueOptions
	Subscription          subscription.Options
	DrainOnShutdown       bool
	UnsubscribeOnShutdown bool
	AckCheckInterval      time.Duration
	Reconnect             ReconnectOptions
}

// item is one queue entry: a decoded event or a connection notice.
type item struct {
	event  *domain.Event
	notice *notice
}

type notice struct {
	code    int
	message string
}

// Engine is the event dispatcher.
type Engine struct {
	client  feed.Client
	specs   []domain.ViewSpec
	model   *live.Model
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	views  *view.Store
	limits *limit.Engine
	subs   *subscription.Manager
	queue  *Queue[item]

	state   atomic.Int32
	latched atomic.Int64 // limits.Latched(), mirrored for readers off the consumer goroutine
}

// New creates an Engine for the given views. model receives the initial
// view state and every change; it may be nil.
func New(client feed.Client, specs []domain.ViewSpec, model *live.Model, opts Options, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	if model == nil {
		model = live.NewModel()
	}
	views, err := view.NewStore(specs, logger)
	if err != nil {
		return nil, fmt.Errorf("building views: %w", err)
	}
	q, err := NewQueue[item](opts.Queue, logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		client:  client,
		specs:   specs,
		model:   model,
		opts:    opts,
		log:     logger.With("component", "engine"),
		metrics: m,
		now:     time.Now,
		views:   views,
		limits:  limit.NewEngine(opts.Threshold),
		subs:    subscription.NewManager(client, opts.Subscription, logger),
		queue:   q,
	}, nil
}

// State returns the current state. It is safe for concurrent use.
func (e *Engine) State() State { return State(e.state.Load()) }

// Subscriptions returns the acknowledged symbol -> id table.
func (e *Engine) Subscriptions() map[string]string { return e.subs.IDs() }

// SubscribedViews returns the subscribed view names in subscription order.
func (e *Engine) SubscribedViews() []string { return e.subs.Views() }

// Dropped returns how many queued items the overflow policy discarded.
func (e *Engine) Dropped() int { return e.queue.Dropped() }

// Latched returns how many (view, symbol) pairs hit the limit before the
// threshold.
func (e *Engine) Latched() int { return int(e.latched.Load()) }

// Model returns the model the engine publishes to.
func (e *Engine) Model() *live.Model { return e.model }

// Run connects the feed, subscribes every view and processes events until
// ctx is done or the feed disconnects for good. It returns nil after a
// cancellation and an error wrapping ErrDisconnected after a terminal
// disconnect. Run tears down the feed, the queue and the model before
// returning.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.model.Reset(e.views.Snapshots())
	defer func() {
		e.shutdown()
		if ctx.Err() != nil {
			err = nil
		}
	}()

	if err := e.connect(ctx); err != nil {
		if e.opts.Reconnect.MaxAttempts <= 0 {
			return err
		}
		if err := e.reconnect(ctx, feed.CloseAbnormal, err.Error()); err != nil {
			return err
		}
	} else if err := e.subscribeAll(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if e.opts.AckCheckInterval > 0 && e.opts.Subscription.AckTimeout > 0 {
		t := time.NewTicker(e.opts.AckCheckInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.queue.Ready():
			if err := e.drain(ctx); err != nil {
				return err
			}
		case now := <-tick:
			e.checkAcks(ctx, now)
		}
	}
}

func (e *Engine) connect(ctx context.Context) error {
	e.setState(StateConnecting, 0, "")
	h := &feedHandler{e: e}
	h.accepting.Store(true)
	if err := e.client.Connect(ctx, h); err != nil {
		h.accepting.Store(false)
		e.setState(StateDisconnected, feed.CloseAbnormal, err.Error())
		return fmt.Errorf("connecting %s feed: %w", e.client.Name(), err)
	}
	e.metrics.Connects.Add(1)
	e.setState(StateConnected, 0, "")
	return nil
}

func (e *Engine) subscribeAll(ctx context.Context) error {
	e.setState(StateSubscribing, 0, "")
	for _, spec := range e.specs {
		if err := e.subs.SubscribeView(ctx, spec.Name, spec.Symbols()); err != nil {
			return err
		}
	}
	return nil
}

// reconnect handles a lost connection. Without reconnect attempts it
// returns the terminal error.
func (e *Engine) reconnect(ctx context.Context, code int, message string) error {
	disconnected := fmt.Errorf("%w: code %d: %s", ErrDisconnected, code, message)
	if e.opts.Reconnect.MaxAttempts <= 0 {
		return disconnected
	}
	if err := e.client.Disconnect(); err != nil {
		e.log.Debug("releasing feed connection", "error", err)
	}
	err := util.RetryNotify(ctx, e.opts.Reconnect.MaxAttempts, e.opts.Reconnect.BaseDelay,
		func() error { return e.connect(ctx) },
		func(attempt int, err error, next time.Duration) {
			e.log.Warn("reconnect failed", "attempt", attempt, "retry_in", next, "error", err)
		})
	if err != nil {
		return fmt.Errorf("%w: %w", disconnected, err)
	}
	e.setState(StateSubscribing, 0, "")
	if err := e.subs.Replay(ctx); err != nil {
		return fmt.Errorf("replaying subscriptions: %w", err)
	}
	return nil
}

func (e *Engine) drain(ctx context.Context) error {
	for {
		it, ok := e.queue.Pop()
		if !ok {
			e.metrics.QueueDepth.Set(0)
			return nil
		}
		if it.notice != nil {
			e.setState(StateDisconnected, it.notice.code, it.notice.message)
			if err := e.reconnect(ctx, it.notice.code, it.notice.message); err != nil {
				return err
			}
			continue
		}
		e.handleEvent(*it.event)
	}
}

func (e *Engine) checkAcks(ctx context.Context, now time.Time) {
	for _, name := range e.subs.Expired(now) {
		e.log.Warn("subscription not acknowledged", "view", name, "pending", len(e.subs.Pending(name)))
		e.metrics.AckTimeouts.Add(1)
		if err := e.subs.Retry(ctx, name); err != nil {
			e.log.Error("resubscribing", "view", name, "error", err)
		}
	}
}

func (e *Engine) handleEvent(ev domain.Event) {
	e.metrics.Events.With("kind", string(ev.Kind)).Add(1)
	switch ev.Kind {
	case domain.EventSubscribed:
		e.markStreaming()
		e.subs.HandleSubscribed(ev.Subscriptions)
		e.metrics.Subscriptions.Set(float64(e.subs.Len()))
	case domain.EventUnsubscribed:
		e.subs.HandleUnsubscribed(ev.Subscriptions)
		e.metrics.Subscriptions.Set(float64(e.subs.Len()))
	case domain.EventSnapshot:
		e.markStreaming()
		e.applySnapshot(ev)
	case domain.EventData:
		e.markStreaming()
		e.applyData(ev)
	case domain.EventHeartbeat, domain.EventPong, domain.EventAuthenticated:
		e.log.Debug("feed control event", "event", ev.Kind)
	case domain.EventError:
		e.log.Warn("feed error event", "message", ev.Message)
	default:
		e.log.Info("ignoring unknown event", "event", ev.Kind)
	}
}

func (e *Engine) markStreaming() {
	if s := e.State(); s == StateConnected || s == StateSubscribing {
		e.setState(StateStreaming, 0, "")
	}
}

// tracking returns the views holding the event's symbol. An untracked
// symbol logs one line.
func (e *Engine) tracking(ev domain.Event) []string {
	views := e.views.Tracking(ev.Aggregate.Symbol)
	if len(views) == 0 {
		e.log.Info("event for untracked symbol", "event", ev.Kind, "symbol", ev.Aggregate.Symbol)
		e.metrics.Untracked.Add(1)
	}
	return views
}

func (e *Engine) applySnapshot(ev domain.Event) {
	a := ev.Aggregate
	var changes []domain.Change
	for _, v := range e.tracking(ev) {
		changes = e.set(changes, v, a.Symbol, domain.ColumnMarket, a.Market)
		changes = e.set(changes, v, a.Symbol, domain.ColumnOpen, a.OpenPrice)
		changes = e.set(changes, v, a.Symbol, domain.ColumnHigh, a.HighPrice)
		changes = e.set(changes, v, a.Symbol, domain.ColumnLow, a.LowPrice)
		changes = e.set(changes, v, a.Symbol, domain.ColumnLast, a.LastPrice)
		changes = e.set(changes, v, a.Symbol, domain.ColumnChangePercent, value.Percent(a.ChangePercent))
		if a.IsLimitUpPrice != nil {
			changes = e.evaluate(changes, v, a.Symbol, *a.IsLimitUpPrice, nil)
		}
	}
	e.model.Publish(changes...)
}

func (e *Engine) applyData(ev domain.Event) {
	a := ev.Aggregate
	if a.IsTrial {
		e.log.Debug("skipping trial data", "symbol", a.Symbol)
		e.metrics.TrialSkipped.Add(1)
		return
	}
	var changes []domain.Change
	for _, v := range e.tracking(ev) {
		changes = e.set(changes, v, a.Symbol, domain.ColumnHigh, a.HighPrice)
		changes = e.set(changes, v, a.Symbol, domain.ColumnLow, a.LowPrice)
		changes = e.set(changes, v, a.Symbol, domain.ColumnLast, a.LastPrice)
		changes = e.set(changes, v, a.Symbol, domain.ColumnChangePercent, value.Percent(a.ChangePercent))
		if a.IsLimitUpPrice != nil {
			changes = e.evaluate(changes, v, a.Symbol, *a.IsLimitUpPrice, a.LastUpdated)
		}
	}
	e.model.Publish(changes...)
}

func (e *Engine) set(changes []domain.Change, viewName, symbol string, col domain.Column, raw any) []domain.Change {
	ch, ok := e.views.ApplyUpdate(viewName, symbol, col, raw)
	if !ok {
		return changes
	}
	at := e.now()
	changes = append(changes, domain.Change{
		Kind:   domain.ChangeCell,
		View:   viewName,
		Symbol: symbol,
		Column: col,
		Text:   ch.Value.Text,
		At:     at,
	})
	if ch.Reordered {
		changes = append(changes, domain.Change{Kind: domain.ChangeOrder, View: viewName, Order: ch.Order, At: at})
	}
	return changes
}

func (e *Engine) evaluate(changes []domain.Change, viewName, symbol string, isLimitUp bool, micros *int64) []domain.Change {
	res := e.limits.Evaluate(viewName, symbol, isLimitUp, micros)
	if res.HighlightChanged {
		e.views.SetHighlight(viewName, symbol, res.CurrentlyLimitUp)
		changes = append(changes, domain.Change{
			Kind:        domain.ChangeHighlight,
			View:        viewName,
			Symbol:      symbol,
			Highlighted: res.CurrentlyLimitUp,
			At:          e.now(),
		})
	}
	if res.Latched {
		e.log.Info("limit up before threshold", "view", viewName, "symbol", symbol)
		e.metrics.LimitLatched.Add(1)
		e.latched.Store(int64(e.limits.Latched()))
		changes = e.set(changes, viewName, symbol, domain.ColumnHitBeforeThreshold, domain.HitMarker)
	}
	return changes
}

func (e *Engine) setState(s State, code int, message string) {
	e.state.Store(int32(s))
	e.metrics.State.Set(float64(s))
	now := e.now()
	e.model.Publish(domain.Change{
		Kind:   domain.ChangeStatus,
		Status: &domain.Status{State: s.String(), Code: code, Message: message, At: now},
		At:     now,
	})
}

func (e *Engine) submit(it item) {
	dropped, err := e.queue.Push(it)
	if err != nil {
		e.metrics.Dropped.With("reason", "closed").Add(1)
		return
	}
	if dropped {
		e.metrics.Dropped.With("reason", "overflow").Add(1)
	}
	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
}

// shutdown disconnects the feed, closes the queue, drains or discards what
// is left and closes the model.
func (e *Engine) shutdown() {
	if u, ok := e.client.(feed.Unsubscriber); ok && e.opts.UnsubscribeOnShutdown && e.State() != StateDisconnected {
		ids := make([]string, 0, e.subs.Len())
		for _, id := range e.subs.IDs() {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := u.Unsubscribe(ctx, ids); err != nil {
			e.log.Warn("unsubscribing", "error", err)
		}
		cancel()
	}
	if err := e.client.Disconnect(); err != nil {
		e.log.Warn("disconnecting feed", "error", err)
	}
	e.queue.Close()
	if e.opts.DrainOnShutdown {
		for {
			it, ok := e.queue.Pop()
			if !ok {
				break
			}
			if it.event != nil {
				e.handleEvent(*it.event)
			}
		}
	} else if n := e.queue.Discard(); n > 0 {
		e.log.Info("discarded queued events", "count", n)
	}
	e.metrics.QueueDepth.Set(0)
	e.setState(StateDisconnected, feed.CloseNormal, "shutdown")
	e.model.Close()
}

// feedHandler is the producer side: it runs on the feed client's
// goroutines, decodes and enqueues. One handler serves one connection.
type feedHandler struct {
	e         *Engine
	accepting atomic.Bool
}

var _ feed.Handler = (*feedHandler)(nil)

func (h *feedHandler) OnConnect() {
	h.e.log.Info("market data connected", "feed", h.e.client.Name())
}

func (h *feedHandler) OnMessage(raw []byte) {
	if !h.accepting.Load() {
		h.e.metrics.Dropped.With("reason", "disconnected").Add(1)
		return
	}
	ev, err := feed.Decode(raw)
	if err != nil {
		h.e.log.Warn("dropping undecodable message", "error", err)
		h.e.metrics.DecodeErrors.Add(1)
		return
	}
	h.e.submit(item{event: &ev})
}

func (h *feedHandler) OnDisconnect(code int, reason string) {
	if !h.accepting.Swap(false) {
		return
	}
	h.e.log.Warn("market data disconnect", "code", code, "message", reason)
	h.e.submit(item{notice: &notice{code: code, message: reason}})
}

func (h *feedHandler) OnError(err error) {
	h.e.log.Error("market data error", "error", err)
	if !h.accepting.Swap(false) {
		return
	}
	h.e.submit(item{notice: &notice{code: feed.CloseAbnormal, message: err.Error()}})
}
