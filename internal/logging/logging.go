// Package logging is the structured logger used across the solver. It wraps
// slog behind a small interface so orchestrators can be handed a no-op logger
// in tests.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Field is a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field  { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field   { return Field{Key: key, Value: value} }

// Err attaches err under the "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Logger is what orchestrators and the driver log through.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects level, format and destination.
type Config struct {
	Level     string    // debug, info, warn, error; slog offsets such as "debug+2" work too
	Format    string    // json or text
	AddSource bool      // include source locations
	Output    io.Writer // defaults to stdout
}

// New returns a slog-backed Logger.
func New(cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "json") {
		return &slogger{l: slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &slogger{l: slog.New(slog.NewTextHandler(out, opts))}
}

// NewFromEnv reads VLASOV_LOG_LEVEL and VLASOV_LOG_FORMAT. It is used before
// the parameter file has been read.
func NewFromEnv() Logger {
	return New(Config{
		Level:     os.Getenv("VLASOV_LOG_LEVEL"),
		Format:    os.Getenv("VLASOV_LOG_FORMAT"),
		AddSource: true,
	})
}

// Noop returns a logger that discards everything.
func Noop() Logger { return noopLogger{} }

type slogger struct {
	l *slog.Logger
}

func (s *slogger) With(fields ...Field) Logger {
	attrs := toAttrs(fields...)
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return &slogger{l: s.l.With(args...)}
}

func (s *slogger) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	s.l.LogAttrs(ctx, level, msg, toAttrs(fields...)...)
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelDebug, msg, fields)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelInfo, msg, fields)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelWarn, msg, fields)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelError, msg, fields)
}

type noopLogger struct{}

func (noopLogger) With(fields ...Field) Logger             { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

func toAttrs(fields ...Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

// parseLevel falls back to info for anything slog does not recognise.
func parseLevel(level string) slog.Leveler {
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Step-scoped context.

type ctxKey string

const (
	stepKey   ctxKey = "step"
	loggerKey ctxKey = "logger"
)

// ContextWithStep stores the solver step number in context.
func ContextWithStep(ctx context.Context, step uint64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext extracts the step number from context.
func StepFromContext(ctx context.Context) (uint64, bool) {
	if ctx == nil {
		return 0, false
	}
	v, ok := ctx.Value(stepKey).(uint64)
	return v, ok
}

// WithStepLogger stores step on the context and returns a logger annotated
// with it.
func WithStepLogger(ctx context.Context, base Logger, step uint64) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	ctx = ContextWithStep(ctx, step)
	return ctx, base.With(Uint64("step", step))
}

// ContextWithLogger stores a logger on the context.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if l == nil {
		l = Noop()
	}
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or nil.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(loggerKey).(Logger); ok {
		return v
	}
	return nil
}
