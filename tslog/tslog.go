// Package tslog provides a tinted structured logging implementation.
package tslog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/database64128/nlsock-go/nlmsg"
	"github.com/lmittmann/tint"
)

// Log formats.
const (
	FormatTint = "tint"
	FormatText = "text"
	FormatJSON = "json"
)

// Config is a set of options for a [*Logger].
type Config struct {
	// Level is the minimum level of log messages to write.
	Level slog.Level `json:"level"`

	// NoColor disables color in tinted log messages.
	NoColor bool `json:"no_color,omitzero"`

	// NoTime disables timestamps in log messages.
	NoTime bool `json:"no_time,omitzero"`

	// Format selects the handler.
	//
	//   - "tint" (default): [tint] colored console output.
	//   - "text": [*slog.TextHandler].
	//   - "json": [*slog.JSONHandler].
	Format string `json:"format,omitzero"`
}

// Check returns an error if the configuration is invalid.
func (c *Config) Check() error {
	switch c.Format {
	case "", FormatTint, FormatText, FormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown log format: %q", c.Format)
	}
}

// NewLogger creates a new [*Logger] that writes to w.
func (c *Config) NewLogger(w io.Writer) *Logger {
	return &Logger{
		level:   c.Level,
		noTime:  c.NoTime,
		handler: c.newHandler(w),
	}
}

// NewTestLogger creates a new [*Logger] that writes to the test log.
func (c *Config) NewTestLogger(t testingLogger) *Logger {
	return c.NewLogger(testingWriter{t})
}

func (c *Config) newHandler(w io.Writer) slog.Handler {
	switch c.Format {
	case FormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.Level})
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.Level})
	default:
		return tint.NewHandler(w, &tint.Options{
			Level:   c.Level,
			NoColor: c.NoColor,
		})
	}
}

// Logger writes structured log messages, tinted with color by default, to its handler.
//
// The level check happens before any record is built, so disabled calls are cheap.
type Logger struct {
	level   slog.Level
	noTime  bool
	handler slog.Handler
}

// Handler returns the logger's handler.
func (l *Logger) Handler() slog.Handler {
	return l.handler
}

// WithAttrs returns a new [*Logger] with the given attributes included in every log message.
func (l *Logger) WithAttrs(attrs ...slog.Attr) *Logger {
	return &Logger{
		level:   l.level,
		noTime:  l.noTime,
		handler: l.handler.WithAttrs(attrs),
	}
}

// Debug logs the given message at [slog.LevelDebug].
func (l *Logger) Debug(msg string, attrs ...slog.Attr) {
	l.Log(slog.LevelDebug, msg, attrs...)
}

// Info logs the given message at [slog.LevelInfo].
func (l *Logger) Info(msg string, attrs ...slog.Attr) {
	l.Log(slog.LevelInfo, msg, attrs...)
}

// Warn logs the given message at [slog.LevelWarn].
func (l *Logger) Warn(msg string, attrs ...slog.Attr) {
	l.Log(slog.LevelWarn, msg, attrs...)
}

// Error logs the given message at [slog.LevelError].
func (l *Logger) Error(msg string, attrs ...slog.Attr) {
	l.Log(slog.LevelError, msg, attrs...)
}

// Enabled returns whether logging at the given level is enabled.
func (l *Logger) Enabled(level slog.Level) bool {
	return level >= l.level
}

// Log logs the given message at the given level.
func (l *Logger) Log(level slog.Level, msg string, attrs ...slog.Attr) {
	if !l.Enabled(level) {
		return
	}
	l.log(level, msg, attrs...)
}

// log is split out so that the exported methods can be inlined.
func (l *Logger) log(level slog.Level, msg string, attrs ...slog.Attr) {
	var t time.Time
	if !l.noTime {
		t = time.Now()
	}
	r := slog.NewRecord(t, level, msg, 0)
	r.AddAttrs(attrs...)
	if err := l.handler.Handle(context.Background(), r); err != nil {
		fmt.Fprintf(os.Stderr, "tslog: failed to write log message: %v\n", err)
	}
}

// Err is a convenience wrapper for [tint.Err].
func Err(err error) slog.Attr {
	return tint.Err(err)
}

// Int returns a [slog.Attr] for a signed integer of any size.
func Int[V ~int | ~int8 | ~int16 | ~int32 | ~int64](key string, value V) slog.Attr {
	return slog.Int64(key, int64(value))
}

// Uint returns a [slog.Attr] for an unsigned integer of any size.
func Uint[V ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr](key string, value V) slog.Attr {
	return slog.Uint64(key, uint64(value))
}

// Header returns a [slog.Attr] grouping the fields of a netlink message header.
// Type and flags are logged by name.
func Header(key string, h nlmsg.Header) slog.Attr {
	return slog.Group(key,
		slog.Uint64("len", uint64(h.Length)),
		slog.String("type", h.Type.String()),
		slog.String("flags", h.Flags.String()),
		slog.Uint64("seq", uint64(h.Sequence)),
		slog.Uint64("pid", uint64(h.PeerID)),
	)
}

// Status returns a [slog.Attr] for a send completion status.
//
// Negative statuses are negated errnos and are logged by name.
func Status(key string, status int) slog.Attr {
	if status < 0 {
		return slog.String(key, syscall.Errno(-status).Error())
	}
	return slog.Int(key, status)
}

type testingLogger interface {
	Logf(format string, args ...any)
}

type testingWriter struct {
	t testingLogger
}

func (w testingWriter) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
