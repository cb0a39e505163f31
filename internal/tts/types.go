// Package tts issues speech requests to an out-of-process speech engine and
// fires them on the host tick, a short lead after the mouth starts moving.
package tts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/normanking/cortexlipsync/internal/lipsync"
)

// Common errors
var (
	ErrEngineUnavailable = errors.New("speech engine unavailable")
	ErrEmptyText         = errors.New("nothing to speak")
	ErrStopped           = errors.New("utterance stopped")
)

// ReferenceRate is the speaking-rate factor at which an engine speaks at its
// natural speed. Utterance.Rate is expressed on the same scale.
const ReferenceRate = 0.5

// EngineRate converts a lip-sync rate config to the Utterance.Rate scale.
func EngineRate(r lipsync.RateConfig) float64 {
	if r.ReferenceRateFactor <= 0 {
		return ReferenceRate
	}
	return r.SpeakingRateFactor * ReferenceRate / r.ReferenceRateFactor
}

// NaturalWordsPerMinute is what command-line engines use at ReferenceRate.
const NaturalWordsPerMinute = 175

// Engine is the interface all speech engines implement.
type Engine interface {
	// Name returns the engine identifier (e.g. "say", "espeak")
	Name() string

	// Available reports whether the engine can run on this machine
	Available() bool

	// Speak starts speaking and returns at once. The handle completes when
	// the engine finishes, fails or is stopped.
	Speak(ctx context.Context, u Utterance) (*Handle, error)
}

// Utterance is one speech request.
type Utterance struct {
	Text   string  `json:"text"`
	Locale string  `json:"locale"` // BCP 47, e.g. en-US
	Rate   float64 `json:"rate"`   // speaking-rate factor, ReferenceRate is natural speed
}

// WordsPerMinute converts Rate for engines that take a wpm flag.
func (u Utterance) WordsPerMinute() int {
	if u.Rate <= 0 {
		return NaturalWordsPerMinute
	}
	wpm := int(NaturalWordsPerMinute*u.Rate/ReferenceRate + 0.5)
	if wpm < 80 {
		wpm = 80
	}
	if wpm > 450 {
		wpm = 450
	}
	return wpm
}

// Handle tracks one running utterance.
type Handle struct {
	Engine  string
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
	end time.Time
}

func newHandle(engine string, cancel context.CancelFunc) *Handle {
	return &Handle{
		Engine:  engine,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// finish records the outcome. Only the first call counts.
func (h *Handle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return
	default:
	}
	h.err = err
	h.end = time.Now()
	close(h.done)
}

// Done is closed when the utterance ends.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is valid after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Elapsed is the wall time the utterance took, or has taken so far.
func (h *Handle) Elapsed() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.end.IsZero() {
		return time.Since(h.Started)
	}
	return h.end.Sub(h.Started)
}

// Stop interrupts the engine.
func (h *Handle) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Config holds speech configuration
type Config struct {
	Engine    string        // auto, say, espeak, null
	Locale    string        // voice language
	Rate      float64       // speaking-rate factor
	LeadDelay time.Duration // wait before the request is issued
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine:    "auto",
		Locale:    "en-US",
		Rate:      0.3,
		LeadDelay: 100 * time.Millisecond,
	}
}
