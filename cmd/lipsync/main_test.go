package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/tts"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipsync.yaml")

	require.NoError(t, execute(t, "init", path))
	assert.Error(t, execute(t, "init", path), "refuses to overwrite")
	require.NoError(t, execute(t, "init", "--force", path))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Rig.JawBoneName, cfg.Rig.JawBoneName)
}

func TestTimelineCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipsync.yaml")
	require.NoError(t, execute(t, "init", path))

	assert.NoError(t, execute(t, "timeline", "-c", path, "hello", "world"))
}

func TestSpeakAndJawTestWithNullEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipsync.yaml")
	require.NoError(t, execute(t, "init", path))

	assert.NoError(t, execute(t, "speak", "-c", path, "--engine", "null", "hi"))
	assert.NoError(t, execute(t, "jaw-test", "-c", path, "--engine", "null"))
}

func TestSpeakRejectsEmptyText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipsync.yaml")
	require.NoError(t, execute(t, "init", path))

	err := execute(t, "speak", "-c", path, "--engine", "null", "   ")
	assert.ErrorIs(t, err, avatar3d.ErrEmptyInput)
}

func TestInspectMissingFile(t *testing.T) {
	assert.Error(t, execute(t, "inspect", filepath.Join(t.TempDir(), "missing.glb")))
}

func TestReloadKeepsEngineRateWithTimeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lipsync:\n  speaking_rate_factor: 0.3\nspeech:\n  engine: \"null\"\n"), 0644))

	a, err := newApp(path, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, path, a.cfg.File())
	assert.InDelta(t, 0.3, a.trigger.Rate(), 1e-9)

	w, err := a.watch()
	require.NoError(t, err)
	require.NotNil(t, w)
	defer w.Close()

	before := a.coord.Speak("one two three four five six seven eight nine ten").Timeline.Total
	a.coord.Stop()

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("lipsync:\n  speaking_rate_factor: 0.6\nspeech:\n  engine: \"null\"\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))
	require.NoError(t, w.Reload())

	after := a.coord.Speak("one two three four five six seven eight nine ten").Timeline.Total
	assert.InDelta(t, float64(before)/2, float64(after), float64(5*time.Millisecond))
	assert.InDelta(t, tts.EngineRate(w.Current().LipSync.RateConfig), a.trigger.Rate(), 1e-9)
	assert.InDelta(t, 0.6, a.trigger.Rate(), 1e-9)
}

func TestWatchWithoutConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	a, err := newApp("", func(cfg *config.Config) { cfg.Speech.Engine = "null" })
	require.NoError(t, err)
	defer a.Close()

	w, err := a.watch()
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestWatchFindsDefaultConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err := config.GetConfigDir()
	require.NoError(t, err)
	require.NoError(t, config.Save(config.DefaultConfig(), filepath.Join(dir, "lipsync.yaml")))

	a, err := newApp("", func(cfg *config.Config) { cfg.Speech.Engine = "null" })
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, filepath.Join(dir, "lipsync.yaml"), a.cfg.File())

	w, err := a.watch()
	require.NoError(t, err)
	require.NotNil(t, w)
	w.Close()
}
