package tts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/metrics"
)

type pendingSpeech struct {
	id        string
	text      string
	rate      float64
	remaining time.Duration
}

// Trigger issues a speech request LeadDelay after it is armed, counting the
// delay in host ticks. Completion is published on the event bus and never
// feeds back into animation timing.
type Trigger struct {
	engine Engine
	config Config
	events *bus.EventBus
	logger zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	stop     context.CancelFunc
	pending  *pendingSpeech
	handle   *Handle
	speaking string
	gen      uint64
}

func NewTrigger(engine Engine, config Config, events *bus.EventBus, logger zerolog.Logger) *Trigger {
	if config.LeadDelay < 0 {
		config.LeadDelay = 0
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Trigger{
		engine: engine,
		config: config,
		events: events,
		logger: logger.With().Str("component", "speech-trigger").Logger(),
		ctx:    ctx,
		stop:   stop,
	}
}

// Arm schedules text for the request id. Any pending or playing utterance is dropped.
func (t *Trigger) Arm(id, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.pending = &pendingSpeech{id: id, text: text, rate: t.config.Rate, remaining: t.config.LeadDelay}
}

// SetRate changes the engine rate for requests armed from now on, converting
// the lip-sync rate the same way the duration estimate reads it.
func (t *Trigger) SetRate(r lipsync.RateConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config.Rate = EngineRate(r)
}

// Rate is the engine rate the next armed request will use.
func (t *Trigger) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config.Rate
}

// Cancel drops a pending request and stops the current utterance.
func (t *Trigger) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *Trigger) cancelLocked() {
	t.gen++
	t.pending = nil
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
	t.speaking = ""
}

// Update counts the lead delay down and fires once it has elapsed.
func (t *Trigger) Update(dt time.Duration) {
	t.mu.Lock()
	p := t.pending
	if p == nil {
		t.mu.Unlock()
		return
	}
	p.remaining -= dt
	if p.remaining > 0 {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.speaking = p.id // while the engine starts
	gen := t.gen
	t.mu.Unlock()

	go t.fire(gen, p)
}

// Pending reports whether a request is waiting for its lead delay.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Speaking returns the request id currently being spoken, if any.
func (t *Trigger) Speaking() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speaking
}

func (t *Trigger) fire(gen uint64, p *pendingSpeech) {
	id := p.id
	u := Utterance{Text: p.text, Locale: t.config.Locale, Rate: p.rate}
	h, err := t.engine.Speak(t.ctx, u)
	if err != nil {
		t.mu.Lock()
		if gen == t.gen {
			t.speaking = ""
		}
		t.mu.Unlock()
		t.logger.Warn().Err(err).Str("request", id).Msg("Speech request failed")
		t.publish(bus.EventTypeTTSFailed, id, map[string]any{"error": err.Error()})
		metrics.SpeechEngineLatency.WithLabelValues(t.engine.Name(), "error").Observe(0)
		return
	}

	t.mu.Lock()
	if gen != t.gen {
		// Superseded while the engine was starting.
		t.mu.Unlock()
		h.Stop()
		<-h.Done()
		return
	}
	t.handle = h
	t.speaking = id
	t.mu.Unlock()

	t.logger.Debug().Str("request", id).Str("engine", t.engine.Name()).Msg("Speech started")
	t.publish(bus.EventTypeTTSStarted, id, nil)

	<-h.Done()

	t.mu.Lock()
	if t.handle == h {
		t.handle = nil
		t.speaking = ""
	}
	t.mu.Unlock()

	err = h.Err()
	switch {
	case errors.Is(err, ErrStopped):
		metrics.SpeechEngineLatency.WithLabelValues(t.engine.Name(), "stopped").Observe(h.Elapsed().Seconds())
		t.publish(bus.EventTypeTTSCompleted, id, map[string]any{"stopped": true})
	case err != nil:
		metrics.SpeechEngineLatency.WithLabelValues(t.engine.Name(), "error").Observe(h.Elapsed().Seconds())
		t.publish(bus.EventTypeTTSFailed, id, map[string]any{"error": err.Error()})
	default:
		metrics.SpeechEngineLatency.WithLabelValues(t.engine.Name(), "ok").Observe(h.Elapsed().Seconds())
		t.logger.Debug().Str("request", id).Dur("elapsed", h.Elapsed()).Msg("Speech completed")
		t.publish(bus.EventTypeTTSCompleted, id, map[string]any{"elapsed_ms": h.Elapsed().Milliseconds()})
	}
}

func (t *Trigger) publish(typ bus.EventType, id string, data map[string]any) {
	if t.events == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["request"] = id
	data["engine"] = t.engine.Name()
	t.events.Publish(bus.Event{Type: typ, Data: data})
}

// Close stops everything and releases the engine context.
func (t *Trigger) Close() {
	t.Cancel()
	t.stop()
}
