// Package logger is the level-filtered logger used across the importer.
// It writes through the standard log package, prefixing each line with its level.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel is a logging threshold. Smaller values are more verbose.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	currentLevel atomic.Int32
	std          = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// ParseLevel converts a level name (case-insensitive) into a LogLevel.
// TRACE maps to DEBUG and SILENT maps to FATAL.
func ParseLevel(level string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL", "SILENT":
		return LevelFatal, true
	}
	return LevelInfo, false
}

// SetLogLevel sets the global threshold. Unknown names fall back to INFO.
func SetLogLevel(level string) {
	l, ok := ParseLevel(level)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
	}
	currentLevel.Store(int32(l))
}

// GetLogLevel returns the current threshold.
func GetLogLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func enabled(l LogLevel) bool {
	return GetLogLevel() <= l
}

// Debugf logs at DEBUG.
func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		std.Printf("[DEBUG] "+format, v...)
	}
}

// Infof logs at INFO.
func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		std.Printf("[INFO] "+format, v...)
	}
}

// Warnf logs at WARN.
func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		std.Printf("[WARN] "+format, v...)
	}
}

// Errorf logs at ERROR.
func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		std.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf logs at FATAL and exits the process.
func Fatalf(format string, v ...interface{}) {
	std.Fatalf("[FATAL] "+format, v...)
}
