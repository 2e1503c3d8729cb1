// Package subscription tracks which symbols each view has asked the feed for
// and which provider ids the feed has acknowledged.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"limitwatch/internal/domain"
)

// Subscriber sends a subscription request to the feed.
type Subscriber interface {
	Subscribe(ctx context.Context, req domain.SubscribeRequest) error
}

// Options configures a Manager.
type Options struct {
	Channel    string        // defaults to domain.ChannelAggregates
	AckTimeout time.Duration // 0 disables Expired
	MaxRetries int
}

type viewSub struct {
	symbols     []string
	requestedAt time.Time
	attempts    int
}

// Manager holds the symbol -> subscription id table. Mutating methods are
// called from the engine's consumer goroutine only; the read accessors are
// safe from any goroutine.
type Manager struct {
	sub  Subscriber
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu    sync.RWMutex
	ids   map[string]string
	views map[string]*viewSub
	order []string
}

// NewManager creates a Manager issuing requests through sub.
func NewManager(sub Subscriber, opts Options, logger *slog.Logger) *Manager {
	if opts.Channel == "" {
		opts.Channel = domain.ChannelAggregates
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sub:   sub,
		opts:  opts,
		log:   logger.With("component", "subscription"),
		now:   time.Now,
		ids:   make(map[string]string),
		views: make(map[string]*viewSub),
	}
}

// SubscribeView sends one request for the view's symbols. Duplicates are
// dropped keeping first-seen order, and symbols that already hold an id are
// not requested again. A view whose symbols are all acknowledged sends
// nothing.
func (m *Manager) SubscribeView(ctx context.Context, view string, symbols []string) error {
	symbols = dedupe(symbols)

	m.mu.Lock()
	vs, ok := m.views[view]
	if !ok {
		vs = &viewSub{}
		m.views[view] = vs
		m.order = append(m.order, view)
	}
	vs.symbols = mergeSymbols(vs.symbols, symbols)
	pending := m.pendingLocked(symbols)
	m.mu.Unlock()

	if len(pending) == 0 {
		m.log.Debug("view already subscribed", "view", view, "symbols", len(symbols))
		return nil
	}
	return m.send(ctx, view, vs, pending, 1)
}

func (m *Manager) send(ctx context.Context, view string, vs *viewSub, symbols []string, attempt int) error {
	req := domain.SubscribeRequest{Channel: m.opts.Channel, Symbols: symbols}
	if err := m.sub.Subscribe(ctx, req); err != nil {
		return fmt.Errorf("subscribing view %s: %w", view, err)
	}

	m.mu.Lock()
	vs.requestedAt = m.now()
	vs.attempts = attempt
	m.mu.Unlock()

	m.log.Info("subscription requested", "view", view, "symbols", len(symbols), "attempt", attempt)
	return nil
}

// HandleSubscribed records the ids of a subscribed ack, in order. A repeated
// ack for a symbol replaces its id so exactly one id is kept per symbol.
func (m *Manager) HandleSubscribed(records []domain.SubscriptionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if old, ok := m.ids[r.Symbol]; ok && old != r.ID {
			m.log.Info("subscription id replaced", "symbol", r.Symbol, "old_id", old, "new_id", r.ID)
		} else {
			m.log.Info("subscribed", "symbol", r.Symbol, "id", r.ID)
		}
		m.ids[r.Symbol] = r.ID
	}
}

// HandleUnsubscribed removes the ids named by an unsubscribed ack.
func (m *Manager) HandleUnsubscribed(records []domain.SubscriptionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		sym := r.Symbol
		if sym == "" {
			sym = m.symbolForIDLocked(r.ID)
		}
		if _, ok := m.ids[sym]; !ok {
			m.log.Info("unsubscribed symbol was not subscribed", "symbol", r.Symbol, "id", r.ID)
			continue
		}
		delete(m.ids, sym)
		m.log.Info("unsubscribed", "symbol", sym, "id", r.ID)
	}
}

func (m *Manager) symbolForIDLocked(id string) string {
	for sym, v := range m.ids {
		if v == id {
			return sym
		}
	}
	return ""
}

// ID returns the subscription id of symbol.
func (m *Manager) ID(symbol string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[symbol]
	return id, ok
}

// IDs returns a copy of the symbol -> id table.
func (m *Manager) IDs() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.ids))
	for k, v := range m.ids {
		out[k] = v
	}
	return out
}

// Len returns the number of acknowledged symbols.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Views returns the subscribed view names in subscription order.
func (m *Manager) Views() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Pending returns the view's symbols that have no id yet.
func (m *Manager) Pending(view string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vs, ok := m.views[view]
	if !ok {
		return nil
	}
	return m.pendingLocked(vs.symbols)
}

func (m *Manager) pendingLocked(symbols []string) []string {
	var out []string
	for _, s := range symbols {
		if _, ok := m.ids[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// Expired returns the views with unacknowledged symbols whose last request
// is older than the ack timeout, sorted by name.
func (m *Manager) Expired(now time.Time) []string {
	if m.opts.AckTimeout <= 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, vs := range m.views {
		if vs.attempts == 0 || now.Sub(vs.requestedAt) < m.opts.AckTimeout {
			continue
		}
		if len(m.pendingLocked(vs.symbols)) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Retry re-sends the view's pending symbols. Once retries are exhausted the
// view is marked so Expired no longer reports it.
func (m *Manager) Retry(ctx context.Context, view string) error {
	m.mu.Lock()
	vs, ok := m.views[view]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown view %q", view)
	}
	pending := m.pendingLocked(vs.symbols)
	attempt := vs.attempts + 1
	if attempt > m.opts.MaxRetries+1 {
		vs.attempts = 0
		m.mu.Unlock()
		m.log.Warn("subscription retries exhausted", "view", view, "pending", len(pending))
		return nil
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return m.send(ctx, view, vs, pending, attempt)
}

// Replay clears every id and re-sends each view's full request, in the
// order the views were first subscribed.
func (m *Manager) Replay(ctx context.Context) error {
	m.mu.Lock()
	m.ids = make(map[string]string)
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, name := range order {
		m.mu.RLock()
		vs := m.views[name]
		symbols := append([]string(nil), vs.symbols...)
		m.mu.RUnlock()
		if len(symbols) == 0 {
			continue
		}
		if err := m.send(ctx, name, vs, symbols, 1); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func mergeSymbols(have, add []string) []string {
	return dedupe(append(append([]string(nil), have...), add...))
}
