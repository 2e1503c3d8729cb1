package limit

import (
	"testing"
	"time"
)

func micros(t time.Time) *int64 {
	v := t.UnixMicro()
	return &v
}

func TestEvaluateLatch(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	threshold := time.Date(2024, 3, 4, 9, 40, 0, 0, loc)
	e := NewEngine(threshold)

	tests := []struct {
		name      string
		isLimitUp bool
		at        *int64
		wantHit   bool
		wantCur   bool
		latched   bool
	}{
		{"limit up before threshold latches", true, micros(threshold.Add(-time.Minute)), true, true, true},
		{"not limit up keeps latch", false, micros(threshold.Add(-30 * time.Second)), true, false, false},
		{"limit up after threshold", true, micros(threshold.Add(time.Minute)), true, true, false},
	}
	for _, tt := range tests {
		res := e.Evaluate("Tech", "2330", tt.isLimitUp, tt.at)
		if res.HitBeforeThreshold != tt.wantHit || res.CurrentlyLimitUp != tt.wantCur || res.Latched != tt.latched {
			t.Errorf("%s: got %+v", tt.name, res)
		}
	}
	if e.Latched() != 1 {
		t.Errorf("Latched() = %d, want 1", e.Latched())
	}
}

func TestEvaluateAfterThresholdNeverLatches(t *testing.T) {
	threshold := time.Date(2024, 3, 4, 9, 40, 0, 0, time.UTC)
	e := NewEngine(threshold)

	res := e.Evaluate("Tech", "2330", true, micros(threshold.Add(5*time.Minute)))
	if res.HitBeforeThreshold {
		t.Error("event after threshold should not latch")
	}
	if !res.CurrentlyLimitUp || !res.HighlightChanged {
		t.Errorf("got %+v, want currently limit up with highlight change", res)
	}

	// Exactly at the threshold is not before it.
	res = e.Evaluate("Tech", "2454", true, micros(threshold))
	if res.HitBeforeThreshold {
		t.Error("event at threshold should not latch")
	}
}

func TestEvaluateMissingTimestamp(t *testing.T) {
	e := NewEngine(time.Date(2024, 3, 4, 9, 40, 0, 0, time.UTC))
	res := e.Evaluate("Tech", "2330", true, nil)
	if res.HitBeforeThreshold {
		t.Error("missing timestamp should not latch")
	}
	if !res.CurrentlyLimitUp {
		t.Error("CurrentlyLimitUp should follow the event")
	}
}

func TestEvaluatePerView(t *testing.T) {
	threshold := time.Date(2024, 3, 4, 9, 40, 0, 0, time.UTC)
	e := NewEngine(threshold)
	e.Evaluate("Tech", "2330", true, micros(threshold.Add(-time.Hour)))

	if !e.Flag("Tech", "2330").HitBeforeThreshold {
		t.Error("Tech/2330 should be latched")
	}
	if e.Flag("Finance", "2330").HitBeforeThreshold {
		t.Error("Finance/2330 should be independent")
	}
}

func TestHighlightTransitions(t *testing.T) {
	e := NewEngine(time.Date(2024, 3, 4, 9, 40, 0, 0, time.UTC))
	steps := []struct {
		on      bool
		changed bool
	}{
		{false, false},
		{true, true},
		{true, false},
		{false, true},
	}
	for i, s := range steps {
		res := e.Evaluate("Tech", "2330", s.on, nil)
		if res.HighlightChanged != s.changed {
			t.Errorf("step %d: HighlightChanged = %v, want %v", i, res.HighlightChanged, s.changed)
		}
	}
}
