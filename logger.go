package accounts

import (
	"context"
	"log/slog"
	"os"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package. Args are
// key/value pairs. It is the go-logger contract, so glog loggers plug in
// directly.
type Logger = glog.Logger

// LoggerProvider hands out named loggers. glog providers satisfy it.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to LoggerProvider
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return nil
	}
	return f(name)
}

// ResolveLogger picks the logger for a component. A named logger from the
// provider wins; otherwise logger is used, then the package default.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return named
		}
	}
	if logger != nil {
		return logger
	}
	return defaultLogger().withName(name)
}

const levelTrace = slog.Level(-8)

type slogLogger struct {
	l   *slog.Logger
	ctx context.Context
}

// NewSlogLogger wraps l in the package Logger contract.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l, ctx: context.Background()}
}

func defaultLogger() *slogLogger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &slogLogger{l: slog.New(h), ctx: context.Background()}
}

func (s *slogLogger) withName(name string) *slogLogger {
	if name == "" {
		return s
	}
	return &slogLogger{l: s.l.With("logger", name), ctx: s.ctx}
}

func (s *slogLogger) Trace(msg string, args ...any) {
	s.l.Log(s.ctx, levelTrace, msg, args...)
}

func (s *slogLogger) Debug(msg string, args ...any) {
	s.l.DebugContext(s.ctx, msg, args...)
}

func (s *slogLogger) Info(msg string, args ...any) {
	s.l.InfoContext(s.ctx, msg, args...)
}

func (s *slogLogger) Warn(msg string, args ...any) {
	s.l.WarnContext(s.ctx, msg, args...)
}

func (s *slogLogger) Error(msg string, args ...any) {
	s.l.ErrorContext(s.ctx, msg, args...)
}

// Fatal logs at error level and exits.
func (s *slogLogger) Fatal(msg string, args ...any) {
	s.l.ErrorContext(s.ctx, msg, args...)
	os.Exit(1)
}

func (s *slogLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &slogLogger{l: s.l, ctx: ctx}
}

type noopLogger struct{}

// NoopLogger discards everything
func NoopLogger() Logger { return noopLogger{} }

func (noopLogger) Trace(string, ...any)                 {}
func (noopLogger) Debug(string, ...any)                 {}
func (noopLogger) Info(string, ...any)                  {}
func (noopLogger) Warn(string, ...any)                  {}
func (noopLogger) Error(string, ...any)                 {}
func (noopLogger) Fatal(string, ...any)                 {}
func (n noopLogger) WithContext(context.Context) Logger { return n }
