// Package logging provides the leveled printf-style logger used across s2g.
// Records go to a colorized tint console handler and, optionally, a plain
// text log file.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
)

// LevelSuccess sits between info and warn and renders as "OK".
const LevelSuccess = slog.Level(2)

// ANSI 256-colour index tint uses for the OK level.
const successColor = 10

// ParseLevel converts a textual log level into a slog.Level. Unknown
// values fall back to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures New.
type Options struct {
	Console io.Writer // nil disables console output
	NoColor bool
	Level   string
	LogFile string // appended; parent directories are created
}

// Logger provides leveled, optionally colored logging with optional file sink.
// A nil *Logger discards everything.
type Logger struct {
	log      *slog.Logger
	mu       sync.Mutex
	file     *os.File
	fileSink slog.Handler
}

// New builds a Logger from opts. Call Close when done if LogFile was set.
func New(opts Options) (*Logger, error) {
	level := ParseLevel(opts.Level)
	var handlers fanout

	if opts.Console != nil {
		handlers = append(handlers, tint.NewHandler(opts.Console, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
			NoColor:    opts.NoColor,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey && len(groups) == 0 && isSuccess(a) {
					return tint.Attr(successColor, slog.String(slog.LevelKey, "OK"))
				}
				return a
			},
		}))
	}

	l := &Logger{}
	if opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		l.file = f
		l.fileSink = slog.NewTextHandler(f, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey && len(groups) == 0 && isSuccess(a) {
					return slog.String(slog.LevelKey, "OK")
				}
				return a
			},
		})
		handlers = append(handlers, l.fileSink)
	}

	if len(handlers) == 0 {
		l.log = slog.New(slog.DiscardHandler)
	} else {
		l.log = slog.New(handlers)
	}
	return l, nil
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return &Logger{log: slog.New(slog.DiscardHandler)}
}

// FileOnly returns a Logger that writes only to l's log file, sharing the
// open handle. Closing it is a no-op. Without a log file it discards.
func (l *Logger) FileOnly() *Logger {
	if l == nil || l.fileSink == nil {
		return Discard()
	}
	return &Logger{log: slog.New(l.fileSink)}
}

func isSuccess(a slog.Attr) bool {
	lvl, ok := a.Value.Any().(slog.Level)
	return ok && lvl == LevelSuccess
}

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.log
}

func (l *Logger) logf(level slog.Level, format string, args []any) {
	if l == nil || l.log == nil {
		return
	}
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...any) { l.logf(slog.LevelInfo, format, args) }

// Success logs at the OK level.
func (l *Logger) Success(format string, args ...any) { l.logf(LevelSuccess, format, args) }

// Warn logs at WARN level.
func (l *Logger) Warn(format string, args ...any) { l.logf(slog.LevelWarn, format, args) }

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...any) { l.logf(slog.LevelError, format, args) }

// Debug logs at DEBUG level; dropped unless the logger level is debug.
func (l *Logger) Debug(format string, args ...any) { l.logf(slog.LevelDebug, format, args) }

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
