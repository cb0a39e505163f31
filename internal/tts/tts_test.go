package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/lipsync"
)

// fakeEngine records utterances and stays "speaking" until stopped or released.
type fakeEngine struct {
	mu      sync.Mutex
	spoken  []Utterance
	handles []*Handle
	fail    error
}

func (f *fakeEngine) Name() string    { return "fake" }
func (f *fakeEngine) Available() bool { return true }

func (f *fakeEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle("fake", cancel)
	go func() {
		<-ctx.Done()
		h.finish(ErrStopped)
	}()
	f.spoken = append(f.spoken, u)
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeEngine) utterances() []Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Utterance(nil), f.spoken...)
}

func (f *fakeEngine) handle(i int) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

func newTestTrigger(engine Engine, lead time.Duration, events *bus.EventBus) *Trigger {
	return NewTrigger(engine, Config{Locale: "en-US", Rate: 0.3, LeadDelay: lead}, events, zerolog.Nop())
}

func TestTriggerWaitsForLeadDelay(t *testing.T) {
	engine := &fakeEngine{}
	trig := newTestTrigger(engine, 100*time.Millisecond, nil)
	defer trig.Close()

	trig.Arm("req-1", "hello there")
	assert.True(t, trig.Pending())

	trig.Update(50 * time.Millisecond)
	assert.True(t, trig.Pending())
	assert.Empty(t, engine.utterances())

	trig.Update(50 * time.Millisecond)
	assert.False(t, trig.Pending())

	require.Eventually(t, func() bool { return len(engine.utterances()) == 1 }, time.Second, 5*time.Millisecond)
	u := engine.utterances()[0]
	assert.Equal(t, "hello there", u.Text)
	assert.Equal(t, "en-US", u.Locale)
	assert.Equal(t, 0.3, u.Rate)
}

func TestTriggerRearmDropsPending(t *testing.T) {
	engine := &fakeEngine{}
	trig := newTestTrigger(engine, 100*time.Millisecond, nil)
	defer trig.Close()

	trig.Arm("a", "first")
	trig.Update(60 * time.Millisecond)
	trig.Arm("b", "second")
	trig.Update(60 * time.Millisecond)
	assert.True(t, trig.Pending(), "lead delay restarts on re-arm")

	trig.Update(60 * time.Millisecond)
	require.Eventually(t, func() bool { return len(engine.utterances()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "second", engine.utterances()[0].Text)
}

func TestTriggerSetRate(t *testing.T) {
	engine := &fakeEngine{}
	trig := newTestTrigger(engine, 0, nil)
	defer trig.Close()

	trig.Arm("slow", "hello there")
	trig.SetRate(lipsync.RateConfig{BaseWordsPerMinute: 250, SpeakingRateFactor: 0.6, ReferenceRateFactor: 0.5})
	trig.Update(0)
	require.Eventually(t, func() bool { return len(engine.utterances()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.3, engine.utterances()[0].Rate, "armed before the change")

	trig.Arm("fast", "hello there")
	trig.Update(0)
	require.Eventually(t, func() bool { return len(engine.utterances()) == 2 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.6, engine.utterances()[1].Rate, 1e-9)

	trig.SetRate(lipsync.RateConfig{BaseWordsPerMinute: 250, SpeakingRateFactor: 0.5, ReferenceRateFactor: 1})
	assert.InDelta(t, 0.25, trig.Rate(), 1e-9, "converted to the engine scale")
}

func TestTriggerCancelStopsUtterance(t *testing.T) {
	engine := &fakeEngine{}
	events := bus.NewEventBus()
	completed := make(chan bus.Event, 1)
	events.Subscribe(bus.EventTypeTTSCompleted, func(e bus.Event) { completed <- e })

	trig := newTestTrigger(engine, 0, events)
	defer trig.Close()

	trig.Arm("req", "keep talking")
	trig.Update(time.Millisecond)
	require.Eventually(t, func() bool { return trig.Speaking() == "req" }, time.Second, 5*time.Millisecond)

	trig.Cancel()
	select {
	case <-engine.handle(0).Done():
	case <-time.After(time.Second):
		t.Fatal("utterance not stopped")
	}
	assert.ErrorIs(t, engine.handle(0).Err(), ErrStopped)

	select {
	case e := <-completed:
		assert.Equal(t, "req", e.Data["request"])
		assert.Equal(t, true, e.Data["stopped"])
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}
}

func TestTriggerEngineFailurePublished(t *testing.T) {
	engine := &fakeEngine{fail: ErrEngineUnavailable}
	events := bus.NewEventBus()
	failed := make(chan bus.Event, 1)
	events.Subscribe(bus.EventTypeTTSFailed, func(e bus.Event) { failed <- e })

	trig := newTestTrigger(engine, 0, events)
	defer trig.Close()
	trig.Arm("x", "hi")
	trig.Update(0)

	select {
	case e := <-failed:
		assert.Equal(t, "x", e.Data["request"])
	case <-time.After(time.Second):
		t.Fatal("no failure event")
	}
}

func TestNullEngineCompletes(t *testing.T) {
	rate := lipsync.RateConfig{BaseWordsPerMinute: 6000, SpeakingRateFactor: 0.5, ReferenceRateFactor: 0.5}
	e := NewNullEngine(rate)

	h, err := e.Speak(context.Background(), Utterance{Text: "one two"})
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("null engine did not finish")
	}
	assert.NoError(t, h.Err())

	_, err = e.Speak(context.Background(), Utterance{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNullEngineReadsEngineScale(t *testing.T) {
	// The engine's own config uses a different reference; Utterance.Rate does not.
	rate := lipsync.RateConfig{BaseWordsPerMinute: 3000, SpeakingRateFactor: 50, ReferenceRateFactor: 50}
	e := NewNullEngine(rate)

	start := time.Now()
	h, err := e.Speak(context.Background(), Utterance{Text: "one two three four five", Rate: ReferenceRate})
	require.NoError(t, err)
	<-h.Done()
	assert.NoError(t, h.Err())
	assert.Less(t, time.Since(start), 2*time.Second, "5 words at 3000 wpm")
}

func TestNullEngineStop(t *testing.T) {
	e := NewNullEngine(lipsync.DefaultRateConfig())
	h, err := e.Speak(context.Background(), Utterance{Text: "a rather long sentence to say"})
	require.NoError(t, err)

	h.Stop()
	<-h.Done()
	assert.True(t, errors.Is(h.Err(), ErrStopped))
}

func TestNewEngine(t *testing.T) {
	rate := lipsync.DefaultRateConfig()

	e, err := NewEngine("null", rate, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "null", e.Name())

	e, err = NewEngine("auto", rate, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, e.Available())

	_, err = NewEngine("festival", rate, zerolog.Nop())
	assert.Error(t, err)
}

func TestWordsPerMinute(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{0, NaturalWordsPerMinute},
		{0.5, 175},
		{0.3, 105},
		{1.0, 350},
		{0.01, 80},
		{5, 450},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Utterance{Rate: tt.rate}.WordsPerMinute(), "rate %v", tt.rate)
	}
}

func TestEngineArgs(t *testing.T) {
	args := sayArgs(Utterance{Text: "-hi", Locale: "en_gb", Rate: 0.3})
	assert.Equal(t, []string{"-v", "Daniel", "-r", "105", "--", "-hi"}, args)

	args = sayArgs(Utterance{Text: "hi", Locale: "xx-YY", Rate: 0.5})
	assert.Equal(t, []string{"--", "hi"}, args)

	args = espeakArgs(Utterance{Text: "hi", Locale: "en-US", Rate: 0.5})
	assert.Equal(t, []string{"-s", "175", "-v", "en-us", "--", "hi"}, args)
}

func TestCanonicalLocale(t *testing.T) {
	assert.Equal(t, "en-US", canonicalLocale("en_us"))
	assert.Equal(t, "en-GB", canonicalLocale(" EN-gb "))
	assert.Equal(t, "fr", canonicalLocale("FR"))
}
