package logger

import (
	"os"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// Init installs the production JSON logger on stdout.
func Init() {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewExample()
	}
	current.Store(l)
	l.Info("logger initialized")
}

// Set replaces the package logger. Tests use it with zaptest/observer.
func Set(l *zap.Logger) {
	current.Store(l)
}

// Sync flushes buffered entries.
func Sync() {
	_ = current.Load().Sync()
}

func Info(msg string, fields map[string]any) {
	current.Load().Info(msg, toZap(fields)...)
}

func Warn(msg string, fields map[string]any) {
	current.Load().Warn(msg, toZap(fields)...)
}

func Error(msg string, fields map[string]any) {
	current.Load().Error(msg, toZap(fields)...)
}

func Fatal(msg string, fields map[string]any) {
	l := current.Load()
	l.Error(msg, toZap(fields)...)
	_ = l.Sync()
	os.Exit(1)
}

// toZap converts the map to zap fields in key order so output is stable.
func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
