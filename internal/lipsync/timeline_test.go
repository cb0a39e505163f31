package lipsync

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func units(labels ...string) []Unit {
	out := make([]Unit, len(labels))
	for i, l := range labels {
		out[i] = Unit{Label: l}
	}
	return out
}

func TestBuildTwoUnits(t *testing.T) {
	table := DefaultTable()
	tl := NewBuilder(DefaultSplit).Build(units("a", "sil"), time.Second, table)

	require.Len(t, tl.Events, 2)
	assert.Equal(t, time.Second, tl.Total)

	first, second := tl.Events[0], tl.Events[1]
	assert.Equal(t, time.Duration(0), first.Start)
	assert.Equal(t, 500*time.Millisecond, second.Start)
	assert.Equal(t, 500*time.Millisecond, first.Window())
	assert.Equal(t, 500*time.Millisecond, second.Window())

	assert.Equal(t, 150*time.Millisecond, first.In)
	assert.Equal(t, 200*time.Millisecond, first.Hold)
	assert.Equal(t, 150*time.Millisecond, first.Out)

	assert.Equal(t, table.Lookup("a"), first.Target)
	assert.Equal(t, 0.0, second.Target)
}

func TestBuildEmpty(t *testing.T) {
	b := NewBuilder(DefaultSplit)
	table := DefaultTable()

	assert.True(t, b.Build(nil, time.Second, table).Empty())
	assert.True(t, b.Build(units("a"), 0, table).Empty())
	assert.True(t, b.Build(units("a"), -time.Second, table).Empty())
	assert.True(t, b.Build(units("a", "e", "i"), 2, table).Empty())
}

func TestBuildOrderingAndCoverage(t *testing.T) {
	b := NewBuilder(DefaultSplit)
	table := DefaultTable()

	durations := []time.Duration{
		time.Millisecond,
		333 * time.Millisecond,
		time.Second,
		2400 * time.Millisecond,
		17*time.Second + 3,
	}
	texts := []string{
		"Do you think this is ok?",
		"Technology and creativity combined create magic!",
		"a",
	}

	for _, text := range texts {
		us := Extract(text)
		for _, d := range durations {
			tl := b.Build(us, d, table)
			require.Len(t, tl.Events, len(us))

			for i := 1; i < len(tl.Events); i++ {
				prev, cur := tl.Events[i-1], tl.Events[i]
				assert.GreaterOrEqual(t, cur.Start, prev.Start)
				assert.GreaterOrEqual(t, cur.Start, prev.End(), "events overlap")
			}

			rel := math.Abs(float64(tl.End()-d)) / float64(d)
			assert.LessOrEqual(t, rel, 1e-3, "text %q duration %v", text, d)
		}
	}
}

func TestBuildCustomSplit(t *testing.T) {
	b := NewBuilder(Split{In: 1, Hold: 2, Out: 1})
	tl := b.Build(units("o"), time.Second, DefaultTable())

	require.Len(t, tl.Events, 1)
	ev := tl.Events[0]
	assert.Equal(t, 250*time.Millisecond, ev.In)
	assert.Equal(t, 500*time.Millisecond, ev.Hold)
	assert.Equal(t, 250*time.Millisecond, ev.Out)
}

func TestSplitNormalizedFallback(t *testing.T) {
	assert.Equal(t, DefaultSplit, Split{}.Normalized())
	assert.Equal(t, DefaultSplit, Split{In: -1, Hold: 1, Out: 1}.Normalized())
}

func TestBuildNilTableUsesDefault(t *testing.T) {
	tl := NewBuilder(DefaultSplit).Build(units("zzz"), time.Second, nil)
	require.Len(t, tl.Events, 1)
	assert.Equal(t, DefaultIntensity, tl.Events[0].Target)
}
