package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

// SetLevel switches the process level; unknown names fall back to info.
func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// Level reports the active level name.
func Level() string {
	return strings.ToLower(levelVar.Level().String())
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Entry is a component-scoped logger. Messages are prefixed with "[tag]"
// and carry the attached key/value attributes.
type Entry struct {
	tag   string
	attrs []any
}

func Component(tag string) Entry {
	return Entry{tag: strings.TrimSpace(tag)}
}

// With returns a copy of e carrying extra slog attributes.
func (e Entry) With(args ...any) Entry {
	attrs := make([]any, 0, len(e.attrs)+len(args))
	attrs = append(attrs, e.attrs...)
	attrs = append(attrs, args...)
	return Entry{tag: e.tag, attrs: attrs}
}

func (e Entry) msg(format string, v []any) string {
	body := fmt.Sprintf(format, v...)
	if e.tag == "" {
		return body
	}
	return "[" + e.tag + "] " + body
}

func (e Entry) Debugf(format string, v ...any) {
	activeLogger().Debug(e.msg(format, v), e.attrs...)
}

func (e Entry) Infof(format string, v ...any) {
	activeLogger().Info(e.msg(format, v), e.attrs...)
}

func (e Entry) Warnf(format string, v ...any) {
	activeLogger().Warn(e.msg(format, v), e.attrs...)
}

func (e Entry) Errorf(format string, v ...any) {
	activeLogger().Error(e.msg(format, v), e.attrs...)
}
