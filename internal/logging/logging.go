// Package logging builds the slog loggers used across genekit.
// Output goes to stderr by default; a log directory adds a JSON file sink.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config controls logger construction. The zero value logs Info and above
// to stderr in text format.
type Config struct {
	Level   slog.Level
	JSON    bool
	LogDir  string // optional; enables {service}_{date}.log JSON files
	Service string
	Output  io.Writer // defaults to os.Stderr
}

// Logger wraps a *slog.Logger together with the file it may own.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New constructs a Logger. Close must be called when a log directory is set.
func New(cfg Config) (*Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var console slog.Handler
	if cfg.JSON {
		console = slog.NewJSONHandler(out, opts)
	} else {
		console = slog.NewTextHandler(out, opts)
	}

	l := &Logger{}
	handler := console
	if cfg.LogDir != "" {
		dir := expandHome(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.Service
		if name == "" {
			name = "genekit"
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		handler = fanout{console, slog.NewJSONHandler(f, opts)}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	l.Logger = logger
	return l, nil
}

// Default returns a stderr text logger at Info level.
func Default() *slog.Logger {
	l, _ := New(Config{Level: slog.LevelInfo})
	return l.Logger
}

// Discard returns a logger that drops every record. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Close releases the log file if one was opened.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
