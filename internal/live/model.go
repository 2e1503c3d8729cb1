// Package live provides a shared in-memory replica of the watchlist views,
// with pub/sub of change events for HTTP, gRPC and console readers.
package live

import (
	"sync"

	"limitwatch/internal/domain"
)

// Model holds copies of every view and the feed status. The engine is the
// only writer on the server side; a Client is the only writer in a mirror.
type Model struct {
	mu     sync.RWMutex
	views  []domain.ViewSnapshot
	index  map[string]int // view name -> position in views
	rows   []map[string]int
	status domain.Status
	closed bool

	nextSubID int
	subs      map[int]chan domain.Change
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		index:  make(map[string]int),
		status: domain.Status{State: "disconnected"},
		subs:   make(map[int]chan domain.Change),
	}
}

// Reset replaces every view. Subscribers are not notified; they read the
// new state through Views.
func (m *Model) Reset(views []domain.ViewSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = make([]domain.ViewSnapshot, len(views))
	m.index = make(map[string]int, len(views))
	m.rows = make([]map[string]int, len(views))
	for i, v := range views {
		m.views[i] = v.Clone()
		m.index[v.Name] = i
		m.rows[i] = rowIndex(v.Rows)
	}
}

func rowIndex(rows []domain.RowSnapshot) map[string]int {
	idx := make(map[string]int, len(rows))
	for i, r := range rows {
		idx[r.Symbol] = i
	}
	return idx
}

// Publish applies changes in order and notifies subscribers. A subscriber
// whose buffer is full misses the change.
func (m *Model) Publish(changes ...domain.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, c := range changes {
		m.apply(c)
		for _, ch := range m.subs {
			select {
			case ch <- c:
			default:
				// Slow subscriber, drop event.
			}
		}
	}
}

func (m *Model) apply(c domain.Change) {
	if c.Kind == domain.ChangeStatus {
		if c.Status != nil {
			m.status = *c.Status
		}
		return
	}
	vi, ok := m.index[c.View]
	if !ok {
		return
	}
	v := &m.views[vi]
	switch c.Kind {
	case domain.ChangeCell:
		if ri, ok := m.rows[vi][c.Symbol]; ok {
			v.Rows[ri].Cells[c.Column] = c.Text
		}
	case domain.ChangeHighlight:
		if ri, ok := m.rows[vi][c.Symbol]; ok {
			v.Rows[ri].Highlighted = c.Highlighted
		}
	case domain.ChangeOrder:
		if len(c.Order) != len(v.Rows) {
			return
		}
		rows := make([]domain.RowSnapshot, 0, len(v.Rows))
		for _, sym := range c.Order {
			ri, ok := m.rows[vi][sym]
			if !ok {
				return
			}
			rows = append(rows, v.Rows[ri])
		}
		v.Rows = rows
		m.rows[vi] = rowIndex(rows)
	}
}

// Views returns copies of every view in order.
func (m *Model) Views() []domain.ViewSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewsLocked()
}

func (m *Model) viewsLocked() []domain.ViewSnapshot {
	out := make([]domain.ViewSnapshot, len(m.views))
	for i, v := range m.views {
		out[i] = v.Clone()
	}
	return out
}

// View returns a copy of the named view.
func (m *Model) View(name string) (domain.ViewSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[name]
	if !ok {
		return domain.ViewSnapshot{}, false
	}
	return m.views[i].Clone(), true
}

// Status returns the last published feed status.
func (m *Model) Status() domain.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Subscribe creates a new subscription channel for change events.
func (m *Model) Subscribe(bufSize int) (id int, ch <-chan domain.Change) {
	id, _, _, ch = m.Watch(bufSize)
	return id, ch
}

// Watch subscribes and returns the state the subscription starts from, so
// no change is lost or applied twice between the copy and the first event.
func (m *Model) Watch(bufSize int) (id int, views []domain.ViewSnapshot, status domain.Status, ch <-chan domain.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id = m.nextSubID
	m.nextSubID++
	c := make(chan domain.Change, bufSize)
	if m.closed {
		close(c)
	} else {
		m.subs[id] = c
	}
	return id, m.viewsLocked(), m.status, c
}

// Subscribers returns the number of open subscriptions.
func (m *Model) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Model) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
}

// Close closes every subscription. The state stays readable; later
// Publish calls are ignored.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}
