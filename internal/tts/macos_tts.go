package tts

import (
	"context"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

// macOS system voice per locale
var macOSVoiceMap = map[string]string{
	"en-US": "Samantha",
	"en-GB": "Daniel",
	"en-AU": "Karen",
	"en-IE": "Moira",
	"en-IN": "Rishi",
	"en-ZA": "Tessa",
	"de-DE": "Anna",
	"fr-FR": "Thomas",
	"es-ES": "Monica",
	"it-IT": "Alice",
	"ja-JP": "Kyoko",
}

// SayEngine speaks through the macOS 'say' command.
type SayEngine struct {
	cmd *commandEngine
}

func NewSayEngine(logger zerolog.Logger) *SayEngine {
	e := &SayEngine{}
	e.cmd = newCommandEngine("say", "say", sayArgs, logger)
	return e
}

func (e *SayEngine) Name() string {
	return "say"
}

// Available checks if this is macOS and 'say' exists
func (e *SayEngine) Available() bool {
	return runtime.GOOS == "darwin" && e.cmd.Available()
}

func (e *SayEngine) Speak(ctx context.Context, u Utterance) (*Handle, error) {
	if runtime.GOOS != "darwin" {
		return nil, ErrEngineUnavailable
	}
	return e.cmd.Speak(ctx, u)
}

func sayArgs(u Utterance) []string {
	args := []string{}
	if voice := sayVoice(u.Locale); voice != "" {
		args = append(args, "-v", voice)
	}
	if wpm := u.WordsPerMinute(); wpm != NaturalWordsPerMinute {
		args = append(args, "-r", strconv.Itoa(wpm))
	}
	// "--" keeps text starting with '-' from being read as a flag.
	return append(args, "--", u.Text)
}

// sayVoice falls back to the system default voice for unknown locales.
func sayVoice(locale string) string {
	return macOSVoiceMap[canonicalLocale(locale)]
}
