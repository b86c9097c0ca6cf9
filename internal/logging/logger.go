// Package logging builds the server's zerolog logger, writing human-readable
// output to the console and a timestamped log file per run.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const fileTimeFormat = "2006-01-02_15-04-05"

// Options controls where and how much the logger writes.
type Options struct {
	// Dir receives one log file per run. Empty disables file logging.
	Dir   string
	Level string
	// Console is the human-readable sink; nil means os.Stderr.
	Console io.Writer
	Now     func() time.Time
}

// Logger bundles the configured logger with the file it writes to.
type Logger struct {
	zerolog.Logger
	Path string
	file *os.File
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a level name to a zerolog level. An empty name means info.
func ParseLevel(name string) (zerolog.Level, error) {
	if strings.TrimSpace(name) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// New creates the logger described by opts.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}}

	result := &Logger{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", opts.Dir, err)
		}
		result.Path = filepath.Join(opts.Dir, "log-"+now().Format(fileTimeFormat)+".log")
		f, err := os.OpenFile(result.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", result.Path, err)
		}
		result.file = f
		writers = append(writers, f)
	}

	result.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return result, nil
}
