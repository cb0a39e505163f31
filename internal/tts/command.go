package tts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// commandEngine runs one process per utterance and speaks through system audio.
type commandEngine struct {
	name   string
	binary string
	args   func(Utterance) []string
	logger zerolog.Logger
}

func newCommandEngine(name, binary string, args func(Utterance) []string, logger zerolog.Logger) *commandEngine {
	return &commandEngine{
		name:   name,
		binary: binary,
		args:   args,
		logger: logger.With().Str("engine", name).Logger(),
	}
}

func (e *commandEngine) Name() string {
	return e.name
}

func (e *commandEngine) Available() bool {
	_, err := exec.LookPath(e.binary)
	return err == nil
}

func (e *commandEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, ErrEmptyText
	}
	path, err := exec.LookPath(e.binary)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.binary, ErrEngineUnavailable)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, e.args(u)...)

	e.logger.Debug().
		Str("locale", u.Locale).
		Int("wpm", u.WordsPerMinute()).
		Int("textLen", len(u.Text)).
		Msg("Speaking")

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", e.binary, err)
	}

	h := newHandle(e.name, cancel)
	go func() {
		err := cmd.Wait()
		if ctx.Err() != nil {
			err = ErrStopped
		}
		cancel()
		if err != nil && !errors.Is(err, ErrStopped) {
			e.logger.Error().Err(err).Msg("Speech engine failed")
			err = fmt.Errorf("%s: %w", e.name, err)
		}
		h.finish(err)
	}()

	return h, nil
}

// canonicalLocale turns en_us / EN-us into en-US.
func canonicalLocale(locale string) string {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	parts := strings.SplitN(locale, "-", 2)
	if len(parts) == 1 {
		return strings.ToLower(parts[0])
	}
	return strings.ToLower(parts[0]) + "-" + strings.ToUpper(parts[1])
}
