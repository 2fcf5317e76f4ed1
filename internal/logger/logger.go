package logger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spectrum-etl/internal/stages"
)

type ctxKey struct{}

var (
	level         = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	defaultLogger = newLogger("json")
)

func newLogger(format string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "text") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Configure applies format ("json" or "text") and level ("debug", "info",
// "warn", "error") from config.
func Configure(format, lvl string) {
	defaultLogger = newLogger(format)
	SetLevel(ParseLevel(lvl))
}

// SetLogger sets the global logger instance.
func SetLogger(l *zap.Logger) {
	defaultLogger = l
}

// SetTextLogger configures the logger to use console output instead of JSON.
func SetTextLogger() {
	defaultLogger = newLogger("text")
}

// SetLevel sets the log level.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ParseLevel maps a config level name to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger returns the default logger.
func Logger() *zap.Logger {
	return defaultLogger
}

// NewContext returns a context carrying fields added to every log line
// written through the *Context helpers.
func NewContext(ctx context.Context, fields ...zap.Field) context.Context {
	if prev, ok := ctx.Value(ctxKey{}).([]zap.Field); ok {
		fields = append(append([]zap.Field{}, prev...), fields...)
	}
	return context.WithValue(ctx, ctxKey{}, fields)
}

// WithContext returns a logger with context values attached.
func WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return defaultLogger
	}
	if fields, ok := ctx.Value(ctxKey{}).([]zap.Field); ok {
		return defaultLogger.With(fields...)
	}
	return defaultLogger
}

// Info logs at Info level.
func Info(msg string, fields ...zap.Field) {
	defaultLogger.Info(msg, fields...)
}

// InfoContext logs at Info level with context.
func InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Info(msg, fields...)
}

// Error logs at Error level.
func Error(msg string, fields ...zap.Field) {
	defaultLogger.Error(msg, fields...)
}

// ErrorContext logs at Error level with context.
func ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Error(msg, fields...)
}

// Warn logs at Warn level.
func Warn(msg string, fields ...zap.Field) {
	defaultLogger.Warn(msg, fields...)
}

// WarnContext logs at Warn level with context.
func WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Warn(msg, fields...)
}

// Debug logs at Debug level.
func Debug(msg string, fields ...zap.Field) {
	defaultLogger.Debug(msg, fields...)
}

// DebugContext logs at Debug level with context.
func DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Debug(msg, fields...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = defaultLogger.Sync()
}

// Diagnostics returns a sink that logs extraction diagnostics: malformed
// input at error level with the offending text, schema advisories at warn.
func Diagnostics() stages.DiagnosticSink {
	return DiagnosticsTo(nil)
}

// DiagnosticsTo is Diagnostics bound to l; a nil l follows the default logger.
func DiagnosticsTo(l *zap.Logger) stages.DiagnosticSink {
	return stages.DiagnosticFunc(func(d stages.Diagnostic) {
		log := l
		if log == nil {
			log = defaultLogger
		}
		switch d.Kind {
		case stages.MalformedInput:
			log.Error("spectrum json parse error",
				zap.String("kind", d.Kind.String()),
				zap.String("raw", d.Raw),
				zap.Error(d.Err),
			)
		case stages.UnsupportedSchemaVersion:
			log.Warn("future schema_version, parsing known fields",
				zap.String("kind", d.Kind.String()),
				zap.Float64("declared", d.Declared),
				zap.Int("supported", d.Supported),
			)
		default:
			log.Warn("extraction diagnostic", zap.String("kind", d.Kind.String()))
		}
	})
}
