// Package telemetry provides the fleet's operational logging and metrics,
// kept deliberately close to stdlib: a rotated per-bot file logger plus a
// Prometheus metrics registry.
package telemetry

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel tags a log entry's kind.
type LogLevel string

const (
	LevelInfo   LogLevel = "INFO"
	LevelWarn   LogLevel = "WARN"
	LevelError  LogLevel = "ERROR"
	LevelTrade  LogLevel = "TRADE"
	LevelStatus LogLevel = "STATUS"
	LevelDebug  LogLevel = "DEBUG"
	LevelSafety LogLevel = "SAFETY"
)

// Logger is a per-bot rotated file logger. The Bot Manager creates one
// instance per Bot Actor, named after its bot id; the shared services
// (Coordinator, Gateway, Governor) do not hold a Logger.
type Logger struct {
	name      string
	logDir    string
	mu        sync.Mutex
	file      *os.File
	logger    *log.Logger
	debugMode bool
	day       string
	discard   bool
}

// New creates a logger that writes to logs/<name>_<date>.log, rotating the
// underlying file when the date changes.
func New(name string, debugMode bool) (*Logger, error) {
	l := &Logger{name: name, logDir: "logs", debugMode: debugMode}
	if err := l.rotateLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewNop returns a logger that drops everything; tests use it so driving a
// bot's tick loop doesn't write log files into the package directory.
func NewNop() *Logger {
	return &Logger{name: "nop", discard: true, logger: log.New(io.Discard, "", 0)}
}

func (l *Logger) rotateLocked() error {
	if l.discard {
		return nil
	}
	day := time.Now().Format("2006-01-02")
	if l.day == day && l.file != nil {
		return nil
	}
	if err := os.MkdirAll(l.logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", l.name, day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = file
	l.logger = log.New(file, "", 0)
	l.day = day
	return nil
}

// Log writes a single formatted entry at the given level.
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.rotateLocked()
	if level == LevelDebug && !l.debugMode {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Printf("[%s] [%s] %s", ts, level, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{})   { l.Log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})   { l.Log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{})  { l.Log(LevelError, format, args...) }
func (l *Logger) Trade(format string, args ...interface{})  { l.Log(LevelTrade, format, args...) }
func (l *Logger) Status(format string, args ...interface{}) { l.Log(LevelStatus, format, args...) }
func (l *Logger) Debug(format string, args ...interface{})  { l.Log(LevelDebug, format, args...) }
func (l *Logger) Safety(format string, args ...interface{}) { l.Log(LevelSafety, format, args...) }

// ErrorWithContext logs an error alongside a short operation label.
func (l *Logger) ErrorWithContext(operation string, err error) {
	l.Error("%s: %v", operation, err)
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
