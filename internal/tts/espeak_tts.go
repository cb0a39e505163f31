package tts

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// EspeakEngine speaks through espeak-ng, falling back to espeak.
type EspeakEngine struct {
	cmd *commandEngine
}

func NewEspeakEngine(logger zerolog.Logger) *EspeakEngine {
	binary := "espeak-ng"
	if _, err := exec.LookPath(binary); err != nil {
		binary = "espeak"
	}
	return &EspeakEngine{cmd: newCommandEngine("espeak", binary, espeakArgs, logger)}
}

func (e *EspeakEngine) Name() string {
	return "espeak"
}

func (e *EspeakEngine) Available() bool {
	return e.cmd.Available()
}

func (e *EspeakEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	return e.cmd.Speak(ctx, u)
}

func espeakArgs(u Utterance) []string {
	args := []string{"-s", strconv.Itoa(u.WordsPerMinute())}
	if u.Locale != "" {
		args = append(args, "-v", strings.ToLower(canonicalLocale(u.Locale)))
	}
	return append(args, "--", u.Text)
}
