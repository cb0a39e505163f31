package lipsync

import (
	"strings"
	"time"
	"unicode"
)

// RateConfig describes how fast the speech engine talks.
type RateConfig struct {
	BaseWordsPerMinute  float64 `mapstructure:"base_words_per_minute"`
	SpeakingRateFactor  float64 `mapstructure:"speaking_rate_factor"`
	ReferenceRateFactor float64 `mapstructure:"reference_rate_factor"`
}

// DefaultRateConfig matches a synthesizer running at rate 0.3 where 0.5 is its
// normal rate and normal speech is about 250 words per minute.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		BaseWordsPerMinute:  250,
		SpeakingRateFactor:  0.3,
		ReferenceRateFactor: 0.5,
	}
}

// WordsPerMinute is the effective rate, or 0 when the config is degenerate.
func (c RateConfig) WordsPerMinute() float64 {
	if c.ReferenceRateFactor <= 0 || c.BaseWordsPerMinute <= 0 || c.SpeakingRateFactor <= 0 {
		return 0
	}
	return c.BaseWordsPerMinute * (c.SpeakingRateFactor / c.ReferenceRateFactor)
}

// CountWords counts runs of text separated by whitespace or punctuation.
func CountWords(text string) int {
	return len(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
}

// EstimateDuration guesses how long the speech engine needs to say text.
// It is a word-rate heuristic; the real utterance can drift from it, most of all for
// short texts and punctuation-heavy ones.
func EstimateDuration(text string, cfg RateConfig) time.Duration {
	words := CountWords(text)
	wpm := cfg.WordsPerMinute()
	if words == 0 || wpm <= 0 {
		return 0
	}
	minutes := float64(words) / wpm
	return time.Duration(minutes * float64(time.Minute))
}
