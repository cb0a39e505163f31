package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerHistory(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelInfo, MaxHistory: 2, Out: &buf})
	require.NoError(t, err)
	defer l.Close()

	l.Debug("test", "hidden", nil)
	l.Info("test", "one", map[string]interface{}{"b": 2, "a": 1})
	l.Warn("test", "two", nil)
	l.Error("test", "three", errors.New("boom"), nil)

	hist := l.GetHistory(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "two", hist[0].Message)
	assert.Equal(t, "warn", hist[0].Level)
	assert.Equal(t, "three", hist[1].Message)
	assert.Equal(t, "error=boom", hist[1].Data)

	assert.Len(t, l.GetHistory(1), 1)
	assert.Contains(t, buf.String(), `"component":"test"`)
	assert.NotContains(t, buf.String(), "hidden")
}

func TestFormatDataSorted(t *testing.T) {
	assert.Equal(t, "a=1, b=2", formatData(map[string]interface{}{"b": 2, "a": 1}))
	assert.Equal(t, "", formatData(nil))
}

func TestLoggerFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(&Config{LogDir: dir, Level: LevelDebug})
	require.NoError(t, err)

	l.Info("test", "to file", nil)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
