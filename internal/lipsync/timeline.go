package lipsync

import (
	"math"
	"time"
)

// Split is the share of each unit's time spent opening, holding and closing.
type Split struct {
	In   float64 `mapstructure:"in"`
	Hold float64 `mapstructure:"hold"`
	Out  float64 `mapstructure:"out"`
}

var DefaultSplit = Split{In: 0.3, Hold: 0.4, Out: 0.3}

// Normalized scales the split to sum to 1. Negative or all-zero splits fall back
// to DefaultSplit.
func (s Split) Normalized() Split {
	if s.In < 0 || s.Hold < 0 || s.Out < 0 {
		return DefaultSplit
	}
	sum := s.In + s.Hold + s.Out
	if sum <= 0 {
		return DefaultSplit
	}
	if math.Abs(sum-1) < 1e-9 {
		return s
	}
	return Split{In: s.In / sum, Hold: s.Hold / sum, Out: s.Out / sum}
}

// Event is one open, hold, close cycle for a single unit.
type Event struct {
	Label  string
	Target float64
	Start  time.Duration
	In     time.Duration
	Hold   time.Duration
	Out    time.Duration
}

func (e Event) Window() time.Duration {
	return e.In + e.Hold + e.Out
}

func (e Event) End() time.Duration {
	return e.Start + e.Window()
}

// Timeline is the ordered event list for one utterance. Events never overlap.
type Timeline struct {
	Events []Event
	Total  time.Duration
}

func (t Timeline) Empty() bool {
	return len(t.Events) == 0
}

// End is when the last event finishes.
func (t Timeline) End() time.Duration {
	if t.Empty() {
		return 0
	}
	return t.Events[len(t.Events)-1].End()
}

// Builder spreads units evenly over a duration.
type Builder struct {
	Split Split
}

func NewBuilder(split Split) *Builder {
	return &Builder{Split: split.Normalized()}
}

// Build gives every unit the same slice of total and emits one event per unit.
// No units or a non-positive duration give an empty timeline.
func (b *Builder) Build(units []Unit, total time.Duration, table *Table) Timeline {
	if len(units) == 0 || total <= 0 {
		return Timeline{}
	}
	if table == nil {
		table = DefaultTable()
	}

	per := total / time.Duration(len(units))
	if per <= 0 {
		return Timeline{}
	}

	split := b.Split.Normalized()
	in := time.Duration(float64(per) * split.In)
	hold := time.Duration(float64(per) * split.Hold)
	out := per - in - hold

	events := make([]Event, len(units))
	for i, u := range units {
		events[i] = Event{
			Label:  u.Label,
			Target: table.Lookup(u.Label),
			Start:  time.Duration(i) * per,
			In:     in,
			Hold:   hold,
			Out:    out,
		}
	}

	return Timeline{Events: events, Total: total}
}
