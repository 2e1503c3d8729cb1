// Package view holds the watchlist views: ordered rows of normalized cells,
// each view re-sorted by change percent whenever that column changes.
package view

import (
	"fmt"
	"log/slog"
	"sort"

	"limitwatch/internal/domain"
	"limitwatch/internal/value"
)

// Change describes the effect of one ApplyUpdate call.
type Change struct {
	View      string
	Symbol    string
	Column    domain.Column
	Value     value.FieldValue
	Reordered bool
	Order     []string // symbol order after a re-sort
}

type row struct {
	symbol      string
	cells       []value.FieldValue
	highlighted bool
}

type state struct {
	name  string
	rows  []*row
	index map[string]int
}

// Store owns every view. It is not safe for concurrent use: the engine's
// consumer goroutine is its only caller.
type Store struct {
	views map[string]*state
	order []string
	log   *slog.Logger
}

var sortCol = mustColumn(domain.SortColumn)

// NewStore builds one view per spec with rows in source order. Names and
// symbols start from the spec, every other cell from the placeholder.
func NewStore(specs []domain.ViewSpec, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		views: make(map[string]*state, len(specs)),
		log:   logger.With("component", "view"),
	}
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("view with empty name")
		}
		if _, dup := s.views[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate view %q", spec.Name)
		}
		v := &state{name: spec.Name, index: make(map[string]int, len(spec.Entries))}
		for _, e := range spec.Entries {
			if _, dup := v.index[e.Symbol]; dup {
				s.log.Warn("duplicate symbol in view, keeping first", "view", spec.Name, "symbol", e.Symbol)
				continue
			}
			v.index[e.Symbol] = len(v.rows)
			v.rows = append(v.rows, newRow(e))
		}
		s.views[spec.Name] = v
		s.order = append(s.order, spec.Name)
	}
	return s, nil
}

func newRow(e domain.Entry) *row {
	r := &row{symbol: e.Symbol, cells: make([]value.FieldValue, len(domain.Columns))}
	for i, col := range domain.Columns {
		switch col {
		case domain.ColumnName:
			r.cells[i] = value.FromText(e.Name)
		case domain.ColumnSymbol:
			r.cells[i] = value.FromText(e.Symbol)
		default:
			r.cells[i] = value.FromText(domain.Placeholder)
		}
	}
	return r
}

// ApplyUpdate writes raw, normalized, into the symbol's cell. An unknown
// view panics. An unknown symbol logs once and changes nothing. Updating the
// sort column re-sorts the view descending and rebuilds its index before
// returning.
func (s *Store) ApplyUpdate(viewName, symbol string, column domain.Column, raw any) (Change, bool) {
	v := s.mustView(viewName)
	ci := mustColumn(column)

	pos, ok := v.index[symbol]
	if !ok {
		s.log.Warn("update for symbol not in view", "view", viewName, "symbol", symbol, "column", column)
		return Change{}, false
	}

	fv := value.Normalize(raw)
	v.rows[pos].cells[ci] = fv
	ch := Change{View: viewName, Symbol: symbol, Column: column, Value: fv}

	if column == domain.SortColumn {
		ch.Reordered = v.sort()
		if ch.Reordered {
			ch.Order = v.symbols()
		}
	}
	return ch, true
}

// sort orders rows by the sort column, descending and stable, then rebuilds
// the index. It reports whether any row moved.
func (v *state) sort() bool {
	before := v.symbols()
	sort.SliceStable(v.rows, func(i, j int) bool {
		return value.Compare(v.rows[i].cells[sortCol], v.rows[j].cells[sortCol]) > 0
	})
	moved := false
	for i, r := range v.rows {
		v.index[r.symbol] = i
		if before[i] != r.symbol {
			moved = true
		}
	}
	return moved
}

func (v *state) symbols() []string {
	out := make([]string, len(v.rows))
	for i, r := range v.rows {
		out[i] = r.symbol
	}
	return out
}

// SetHighlight sets the display highlight of a row. It reports whether the
// row exists.
func (s *Store) SetHighlight(viewName, symbol string, on bool) bool {
	v := s.mustView(viewName)
	pos, ok := v.index[symbol]
	if !ok {
		return false
	}
	v.rows[pos].highlighted = on
	return true
}

// Tracking returns the views containing symbol, in view order.
func (s *Store) Tracking(symbol string) []string {
	var out []string
	for _, name := range s.order {
		if _, ok := s.views[name].index[symbol]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Position returns the row index of symbol within a view.
func (s *Store) Position(viewName, symbol string) (int, bool) {
	v := s.mustView(viewName)
	pos, ok := v.index[symbol]
	return pos, ok
}

// Cell returns the current value of a cell.
func (s *Store) Cell(viewName, symbol string, column domain.Column) (value.FieldValue, bool) {
	v := s.mustView(viewName)
	pos, ok := v.index[symbol]
	if !ok {
		return value.FieldValue{}, false
	}
	return v.rows[pos].cells[mustColumn(column)], true
}

// Order returns the symbols of a view in display order.
func (s *Store) Order(viewName string) []string {
	return s.mustView(viewName).symbols()
}

// Names returns the view names in source order.
func (s *Store) Names() []string {
	return append([]string(nil), s.order...)
}

// Snapshot returns a copy of a view.
func (s *Store) Snapshot(viewName string) (domain.ViewSnapshot, bool) {
	v, ok := s.views[viewName]
	if !ok {
		return domain.ViewSnapshot{}, false
	}
	return v.snapshot(), true
}

// Snapshots returns copies of every view in source order.
func (s *Store) Snapshots() []domain.ViewSnapshot {
	out := make([]domain.ViewSnapshot, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.views[name].snapshot())
	}
	return out
}

func (v *state) snapshot() domain.ViewSnapshot {
	snap := domain.ViewSnapshot{Name: v.name, Rows: make([]domain.RowSnapshot, len(v.rows))}
	for i, r := range v.rows {
		cells := make(map[domain.Column]string, len(r.cells))
		for ci, c := range r.cells {
			cells[domain.Columns[ci]] = c.Text
		}
		snap.Rows[i] = domain.RowSnapshot{Symbol: r.symbol, Cells: cells, Highlighted: r.highlighted}
	}
	return snap
}

func (s *Store) mustView(name string) *state {
	v, ok := s.views[name]
	if !ok {
		panic(fmt.Sprintf("view: unknown view %q", name))
	}
	return v
}

func mustColumn(c domain.Column) int {
	i, ok := domain.ColumnIndex(c)
	if !ok {
		panic(fmt.Sprintf("view: unknown column %q", c))
	}
	return i
}
