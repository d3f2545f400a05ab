package logutil

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	logger  = log.NewWithOptions(os.Stderr, log.Options{Prefix: "xpublish", ReportTimestamp: true, Level: log.InfoLevel})
	verbose bool
	mu      sync.RWMutex
)

// SetVerbose adjusts the global logging level.
func SetVerbose(enable bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = enable
	if enable {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}

// Verbose reports whether verbose logging is enabled.
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput redirects log output, mostly useful for silencing tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// With returns a child logger carrying the given key/value pairs on every line.
func With(keyvals ...any) *log.Logger {
	return logger.With(keyvals...)
}

// Debugf logs a debug message when verbose logging is enabled.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// Error logs a structured error line.
func Error(msg string, keyvals ...any) {
	logger.Error(msg, keyvals...)
}

// Warn logs a structured warning line.
func Warn(msg string, keyvals ...any) {
	logger.Warn(msg, keyvals...)
}

// Debug logs a structured debug line.
func Debug(msg string, keyvals ...any) {
	logger.Debug(msg, keyvals...)
}

// Info logs a structured informational line.
func Info(msg string, keyvals ...any) {
	logger.Info(msg, keyvals...)
}
