// Package logging provides the process-wide structured logger for v3ftn.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugEnabled controls whether Debug() produces output.
// Set via -debug flag or DEBUG=1 environment variable.
var DebugEnabled bool

// Options configures the logger built by Init.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output string // file path, "stdout" or "stderr"
}

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *zap.SugaredLogger {
	l, err := build(Options{})
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func build(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(strings.ToLower(opts.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}
	if DebugEnabled {
		level = zapcore.DebugLevel
	}

	encoding := "console"
	if strings.EqualFold(opts.Format, "json") {
		encoding = "json"
	}
	output := opts.Output
	if output == "" {
		output = "stderr"
	}

	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "ts",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build()
}

// Init replaces the process logger.
func Init(opts Options) error {
	l, err := build(opts)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l as the process logger and returns a func restoring the
// previous one. Tests use it with zaptest/observer.
func Set(l *zap.Logger) (restore func()) {
	mu.Lock()
	prev := logger
	logger = l.Sugar()
	mu.Unlock()
	return func() {
		mu.Lock()
		logger = prev
		mu.Unlock()
	}
}

// L returns the process logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Sync flushes buffered entries.
func Sync() {
	_ = L().Sync()
}

// Debug logs a message only when DebugEnabled is true.
func Debug(format string, args ...any) {
	if DebugEnabled {
		L().Debugf(format, args...)
	}
}

// Info logs at info level.
func Info(format string, args ...any) {
	L().Infof(format, args...)
}

// Warn logs at warn level.
func Warn(format string, args ...any) {
	L().Warnf(format, args...)
}

// Error logs at error level.
func Error(format string, args ...any) {
	L().Errorf(format, args...)
}
