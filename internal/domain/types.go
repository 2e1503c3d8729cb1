// Package domain defines the core types shared across limitwatch: feed
// events, subscription records, watchlist definitions and the change
// notifications published to readers of the live view state.
package domain

import "time"

// ---------------------------------------------------------------------------
// View columns
// ---------------------------------------------------------------------------

// Column identifies a cell in a watchlist row.
type Column string

const (
	ColumnName               Column = "name"
	ColumnSymbol             Column = "symbol"
	ColumnMarket             Column = "market"
	ColumnOpen               Column = "open"
	ColumnHigh               Column = "high"
	ColumnLow                Column = "low"
	ColumnLast               Column = "last"
	ColumnChangePercent      Column = "changePercent"
	ColumnHitBeforeThreshold Column = "hitLimitBeforeThreshold"
)

// Columns is the fixed, ordered column set of every view.
var Columns = []Column{
	ColumnName,
	ColumnSymbol,
	ColumnMarket,
	ColumnOpen,
	ColumnHigh,
	ColumnLow,
	ColumnLast,
	ColumnChangePercent,
	ColumnHitBeforeThreshold,
}

// SortColumn is the column that drives row order.
const SortColumn = ColumnChangePercent

// HitMarker is written into ColumnHitBeforeThreshold once a symbol latches.
const HitMarker = "Y"

// Placeholder is the initial text of every price cell.
const Placeholder = "-"

// ColumnIndex returns the position of c in Columns.
func ColumnIndex(c Column) (int, bool) {
	for i, col := range Columns {
		if col == c {
			return i, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Feed events
// ---------------------------------------------------------------------------

// EventKind is the value of the "event" field of an inbound feed message.
type EventKind string

const (
	EventSubscribed    EventKind = "subscribed"
	EventUnsubscribed  EventKind = "unsubscribed"
	EventSnapshot      EventKind = "snapshot"
	EventData          EventKind = "data"
	EventHeartbeat     EventKind = "heartbeat"
	EventPong          EventKind = "pong"
	EventAuthenticated EventKind = "authenticated"
	EventError         EventKind = "error"
)

// ChannelAggregates is the feed channel carrying per-symbol aggregate quotes.
const ChannelAggregates = "aggregates"

// SubscribeRequest is the outbound subscription request for one view.
type SubscribeRequest struct {
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// SubscriptionRecord is one entry of a subscribed/unsubscribed ack.
type SubscriptionRecord struct {
	ID      string `json:"id"`
	Symbol  string `json:"symbol"`
	Channel string `json:"channel,omitempty"`
}

// Aggregate carries the quote fields of a snapshot or data event. Price
// fields hold the raw decoded values (json.Number, string or nil) so the
// value normalizer sees exactly what the feed sent.
type Aggregate struct {
	Symbol         string
	Market         any
	OpenPrice      any
	HighPrice      any
	LowPrice       any
	LastPrice      any
	ChangePercent  any
	IsLimitUpPrice *bool
	IsTrial        bool
	LastUpdated    *int64 // epoch microseconds
}

// Event is a decoded inbound feed message.
type Event struct {
	Kind          EventKind
	Subscriptions []SubscriptionRecord // subscribed, unsubscribed
	Aggregate     *Aggregate           // snapshot, data
	Message       string               // error
	ReceivedAt    time.Time
}

// ---------------------------------------------------------------------------
// Watchlists
// ---------------------------------------------------------------------------

// Entry is one symbol of a watchlist view.
type Entry struct {
	Symbol string `json:"symbol" yaml:"symbol" parquet:"symbol"`
	Name   string `json:"name" yaml:"name" parquet:"name"`
}

// ViewSpec defines one named view and its symbols in display order.
type ViewSpec struct {
	Name    string  `json:"name" yaml:"name"`
	Entries []Entry `json:"entries" yaml:"symbols"`
}

// Symbols returns the symbols of the view in order.
func (v ViewSpec) Symbols() []string {
	out := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = e.Symbol
	}
	return out
}

// ---------------------------------------------------------------------------
// Published state
// ---------------------------------------------------------------------------

// RowSnapshot is a copy of one view row.
type RowSnapshot struct {
	Symbol      string            `json:"symbol"`
	Cells       map[Column]string `json:"cells"`
	Highlighted bool              `json:"highlighted"`
}

// ViewSnapshot is a copy of one view in display order.
type ViewSnapshot struct {
	Name string        `json:"name"`
	Rows []RowSnapshot `json:"rows"`
}

// Clone returns a deep copy of v.
func (v ViewSnapshot) Clone() ViewSnapshot {
	out := ViewSnapshot{Name: v.Name, Rows: make([]RowSnapshot, len(v.Rows))}
	for i, r := range v.Rows {
		cells := make(map[Column]string, len(r.Cells))
		for k, c := range r.Cells {
			cells[k] = c
		}
		out.Rows[i] = RowSnapshot{Symbol: r.Symbol, Cells: cells, Highlighted: r.Highlighted}
	}
	return out
}

// ChangeKind classifies a change notification.
type ChangeKind string

const (
	ChangeCell      ChangeKind = "cell"
	ChangeOrder     ChangeKind = "order"
	ChangeHighlight ChangeKind = "highlight"
	ChangeStatus    ChangeKind = "status"
)

// Change is a single state change published to readers.
type Change struct {
	Kind        ChangeKind `json:"kind"`
	View        string     `json:"view,omitempty"`
	Symbol      string     `json:"symbol,omitempty"`
	Column      Column     `json:"column,omitempty"`
	Text        string     `json:"text,omitempty"`
	Highlighted bool       `json:"highlighted,omitempty"`
	Order       []string   `json:"order,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	At          time.Time  `json:"at"`
}

// Status describes the feed connection as seen by the engine.
type Status struct {
	State   string    `json:"state"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
