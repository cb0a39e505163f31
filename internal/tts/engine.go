package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/lipsync"
)

// NullEngine produces no audio. Utterances complete after the estimated
// speaking time so headless hosts see the same lifecycle as real engines.
type NullEngine struct {
	Rate lipsync.RateConfig
}

func NewNullEngine(rate lipsync.RateConfig) *NullEngine {
	return &NullEngine{Rate: rate}
}

func (e *NullEngine) Name() string {
	return "null"
}

func (e *NullEngine) Available() bool {
	return true
}

func (e *NullEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, ErrEmptyText
	}

	rate := e.Rate
	if u.Rate > 0 {
		rate.SpeakingRateFactor = u.Rate
		rate.ReferenceRateFactor = ReferenceRate
	}
	d := lipsync.EstimateDuration(u.Text, rate)

	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(e.Name(), cancel)
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			h.finish(nil)
		case <-ctx.Done():
			h.finish(ErrStopped)
		}
		cancel()
	}()
	return h, nil
}

// NewEngine returns the engine called name. "auto" picks the first available
// of say, espeak and null.
func NewEngine(name string, rate lipsync.RateConfig, logger zerolog.Logger) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		for _, e := range []Engine{NewSayEngine(logger), NewEspeakEngine(logger)} {
			if e.Available() {
				logger.Info().Str("engine", e.Name()).Msg("Speech engine selected")
				return e, nil
			}
		}
		logger.Warn().Msg("No speech engine found, running silent")
		return NewNullEngine(rate), nil
	case "say", "macos":
		e := NewSayEngine(logger)
		if !e.Available() {
			return nil, fmt.Errorf("say: %w", ErrEngineUnavailable)
		}
		return e, nil
	case "espeak", "espeak-ng":
		e := NewEspeakEngine(logger)
		if !e.Available() {
			return nil, fmt.Errorf("espeak: %w", ErrEngineUnavailable)
		}
		return e, nil
	case "null", "none":
		return NewNullEngine(rate), nil
	}
	return nil, fmt.Errorf("unknown speech engine %q", name)
}
