// Package logging provides structured logging with optional file output and
// an in-memory history served by the control server.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// LogEntry is one line of log history
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Logger wraps zerolog with file output and log history
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string
	mu      sync.RWMutex
	history []LogEntry
	maxHist int
}

// Config holds logger configuration
type Config struct {
	LogDir     string   // Directory for log files, empty disables the file
	Level      LogLevel // Minimum log level (default: info)
	MaxHistory int      // Max entries to keep in memory (default: 1000)
	Console    bool     // Also log to console
	Out        io.Writer
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		MaxHistory: 1000,
		Console:    true,
	}
}

// New creates a new Logger
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}

	var writers []io.Writer
	var file *os.File
	var logPath string

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logFileName := fmt.Sprintf("lipsync_%s.log", time.Now().Format("2006-01-02"))
		logPath = filepath.Join(cfg.LogDir, logFileName)

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		writers = append(writers, file)
	}

	if cfg.Out != nil {
		writers = append(writers, cfg.Out)
	}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	zlog := zerolog.New(io.MultiWriter(writers...)).
		Level(cfg.Level.zerolog()).
		With().
		Timestamp().
		Str("app", "lipsync").
		Logger()

	logger := &Logger{
		zlog:    zlog,
		file:    file,
		logPath: logPath,
		history: make([]LogEntry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}

	logger.Debug("logging", "Logger initialized", map[string]interface{}{
		"logFile": logPath,
		"level":   string(cfg.Level),
	})

	return logger, nil
}

// addToHistory adds an entry to the in-memory log history
func (l *Logger) addToHistory(level zerolog.Level, entry LogEntry) {
	if level < l.zlog.GetLevel() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
}

// GetHistory returns the most recent log entries, oldest first
func (l *Logger) GetHistory(limit int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}

	result := make([]LogEntry, limit)
	copy(result, l.history[len(l.history)-limit:])
	return result
}

// GetLogPath returns the current log file path, empty without a file
func (l *Logger) GetLogPath() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	l.Debug("logging", "Logger shutting down", nil)
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// formatData renders data as sorted key=value pairs
func formatData(data map[string]interface{}) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}

func (l *Logger) log(event *zerolog.Event, level zerolog.Level, component, msg string, data map[string]interface{}, extra string) {
	event = event.Str("component", component)
	for k, v := range data {
		event = event.Interface(k, v)
	}
	event.Msg(msg)

	d := formatData(data)
	if extra != "" {
		if d != "" {
			d += ", "
		}
		d += extra
	}
	l.addToHistory(level, LogEntry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     level.String(),
		Component: component,
		Message:   msg,
		Data:      d,
	})
}

// Debug logs a debug message
func (l *Logger) Debug(component, msg string, data map[string]interface{}) {
	l.log(l.zlog.Debug(), zerolog.DebugLevel, component, msg, data, "")
}

// Info logs an info message
func (l *Logger) Info(component, msg string, data map[string]interface{}) {
	l.log(l.zlog.Info(), zerolog.InfoLevel, component, msg, data, "")
}

// Warn logs a warning message
func (l *Logger) Warn(component, msg string, data map[string]interface{}) {
	l.log(l.zlog.Warn(), zerolog.WarnLevel, component, msg, data, "")
}

// Error logs an error message
func (l *Logger) Error(component, msg string, err error, data map[string]interface{}) {
	event := l.zlog.Error()
	extra := ""
	if err != nil {
		event = event.Err(err)
		extra = "error=" + err.Error()
	}
	l.log(event, zerolog.ErrorLevel, component, msg, data, extra)
}

// Component returns a zerolog.Logger with the component field set.
// Entries written through it skip the history.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}
