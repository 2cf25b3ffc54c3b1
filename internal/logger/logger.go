// Package logger provides a shared logging facade backed by zap.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

func init() {
	// A usable default so packages can log before Initialize runs.
	log = newLogger(false)
}

// Initialize configures the process-wide logger. Set debug to enable
// debug-level output and development-friendly encoding.
func Initialize(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	log = newLogger(debug)
}

func newLogger(debug bool) *zap.SugaredLogger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Config above is static; Build only fails on invalid sink paths.
		panic(err)
	}
	return l.Sugar()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a message at debug level.
func Debug(args ...any) { get().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { get().Debugf(format, args...) }

// Info logs a message at info level.
func Info(args ...any) { get().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { get().Infof(format, args...) }

// Warn logs a message at warn level.
func Warn(args ...any) { get().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { get().Warnf(format, args...) }

// Error logs a message at error level.
func Error(args ...any) { get().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { get().Errorf(format, args...) }

// Fatalf logs a formatted message and exits the process.
func Fatalf(format string, args ...any) { get().Fatalf(format, args...) }
