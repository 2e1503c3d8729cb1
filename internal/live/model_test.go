package live

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"limitwatch/internal/domain"
)

func testViews() []domain.ViewSnapshot {
	return []domain.ViewSnapshot{
		{Name: "Tech", Rows: []domain.RowSnapshot{
			{Symbol: "2330", Cells: map[domain.Column]string{domain.ColumnChangePercent: "-"}},
			{Symbol: "2454", Cells: map[domain.Column]string{domain.ColumnChangePercent: "-"}},
		}},
	}
}

func TestModelApply(t *testing.T) {
	m := NewModel()
	m.Reset(testViews())

	m.Publish(
		domain.Change{Kind: domain.ChangeCell, View: "Tech", Symbol: "2454", Column: domain.ColumnChangePercent, Text: "3.1%"},
		domain.Change{Kind: domain.ChangeOrder, View: "Tech", Order: []string{"2454", "2330"}},
		domain.Change{Kind: domain.ChangeHighlight, View: "Tech", Symbol: "2454", Highlighted: true},
		domain.Change{Kind: domain.ChangeCell, View: "Tech", Symbol: "2330", Column: domain.ColumnChangePercent, Text: "1%"},
	)

	got, ok := m.View("Tech")
	if !ok {
		t.Fatal("View(Tech) missing")
	}
	want := domain.ViewSnapshot{Name: "Tech", Rows: []domain.RowSnapshot{
		{Symbol: "2454", Cells: map[domain.Column]string{domain.ColumnChangePercent: "3.1%"}, Highlighted: true},
		{Symbol: "2330", Cells: map[domain.Column]string{domain.ColumnChangePercent: "1%"}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("view mismatch (-want +got):\n%s", diff)
	}
}

func TestModelIgnoresUnknownTargets(t *testing.T) {
	m := NewModel()
	m.Reset(testViews())
	before := m.Views()
	m.Publish(
		domain.Change{Kind: domain.ChangeCell, View: "Nope", Symbol: "2330", Column: domain.ColumnLast, Text: "1"},
		domain.Change{Kind: domain.ChangeCell, View: "Tech", Symbol: "9999", Column: domain.ColumnLast, Text: "1"},
		domain.Change{Kind: domain.ChangeOrder, View: "Tech", Order: []string{"2330"}},
	)
	if diff := cmp.Diff(before, m.Views()); diff != "" {
		t.Errorf("views changed (-before +after):\n%s", diff)
	}
}

func TestModelCopiesAreIndependent(t *testing.T) {
	m := NewModel()
	views := testViews()
	m.Reset(views)
	views[0].Rows[0].Cells[domain.ColumnChangePercent] = "mutated"

	got, _ := m.View("Tech")
	got.Rows[1].Cells[domain.ColumnChangePercent] = "mutated"

	again, _ := m.View("Tech")
	for _, r := range again.Rows {
		if r.Cells[domain.ColumnChangePercent] != "-" {
			t.Errorf("%s changePercent = %q, want -", r.Symbol, r.Cells[domain.ColumnChangePercent])
		}
	}
}

func TestModelStatus(t *testing.T) {
	m := NewModel()
	if got := m.Status().State; got != "disconnected" {
		t.Errorf("initial state = %q, want disconnected", got)
	}
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	st := &domain.Status{State: "streaming", At: at}
	m.Publish(domain.Change{Kind: domain.ChangeStatus, Status: st, At: at})
	if diff := cmp.Diff(*st, m.Status()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestModelSubscribe(t *testing.T) {
	m := NewModel()
	m.Reset(testViews())

	_, fast := m.Subscribe(8)
	slowID, slow := m.Subscribe(1)

	c1 := domain.Change{Kind: domain.ChangeCell, View: "Tech", Symbol: "2330", Column: domain.ColumnLast, Text: "1"}
	c2 := domain.Change{Kind: domain.ChangeCell, View: "Tech", Symbol: "2330", Column: domain.ColumnLast, Text: "2"}
	m.Publish(c1, c2)

	if got := len(fast); got != 2 {
		t.Errorf("fast subscriber got %d changes, want 2", got)
	}
	if got := len(slow); got != 1 {
		t.Errorf("slow subscriber got %d changes, want 1", got)
	}
	if got := <-slow; got.Text != "1" {
		t.Errorf("slow subscriber first change = %q, want 1", got.Text)
	}

	m.Unsubscribe(slowID)
	if _, ok := <-slow; ok {
		t.Error("channel open after Unsubscribe")
	}
	m.Unsubscribe(slowID)
}

func TestModelClose(t *testing.T) {
	m := NewModel()
	m.Reset(testViews())
	_, ch := m.Subscribe(4)
	m.Close()
	m.Close()

	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
	m.Publish(domain.Change{Kind: domain.ChangeCell, View: "Tech", Symbol: "2330", Column: domain.ColumnLast, Text: "1"})
	if got, _ := m.View("Tech"); got.Rows[0].Cells[domain.ColumnLast] != "" {
		t.Errorf("Publish after Close applied a change")
	}

	_, _, _, late := m.Watch(1)
	if _, ok := <-late; ok {
		t.Error("Watch after Close returned an open channel")
	}
}
