// Package limit derives the per-row limit-up flags: a transient "currently
// at the limit" highlight and a latched "hit the limit before the threshold"
// marker.
package limit

import "time"

// Flag is the limit state of one (view, symbol) pair.
type Flag struct {
	CurrentlyLimitUp   bool
	HitBeforeThreshold bool
}

// Result is the outcome of one evaluation.
type Result struct {
	Flag
	HighlightChanged bool // CurrentlyLimitUp differs from before
	Latched          bool // HitBeforeThreshold became true on this event
}

type key struct {
	view   string
	symbol string
}

// Engine holds limit flags. Like the view store it belongs to the engine's
// consumer goroutine.
type Engine struct {
	micros int64 // threshold in epoch microseconds, the feed's lastUpdated unit
	flags  map[key]*Flag
}

// NewEngine creates an Engine latching events strictly before threshold.
func NewEngine(threshold time.Time) *Engine {
	return &Engine{
		micros: threshold.UnixMicro(),
		flags:  make(map[key]*Flag),
	}
}

// Evaluate updates the flag for (view, symbol). The latch sets only when
// isLimitUp is true and eventMicros is present and earlier than the
// threshold; once set it never clears.
func (e *Engine) Evaluate(view, symbol string, isLimitUp bool, eventMicros *int64) Result {
	k := key{view, symbol}
	f, ok := e.flags[k]
	if !ok {
		f = &Flag{}
		e.flags[k] = f
	}

	res := Result{HighlightChanged: f.CurrentlyLimitUp != isLimitUp}
	f.CurrentlyLimitUp = isLimitUp

	if isLimitUp && eventMicros != nil && *eventMicros < e.micros && !f.HitBeforeThreshold {
		f.HitBeforeThreshold = true
		res.Latched = true
	}
	res.Flag = *f
	return res
}

// Flag returns the current flag for (view, symbol).
func (e *Engine) Flag(view, symbol string) Flag {
	if f, ok := e.flags[key{view, symbol}]; ok {
		return *f
	}
	return Flag{}
}

// Latched returns the number of pairs whose latch is set.
func (e *Engine) Latched() int {
	n := 0
	for _, f := range e.flags {
		if f.HitBeforeThreshold {
			n++
		}
	}
	return n
}
