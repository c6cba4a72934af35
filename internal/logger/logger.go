package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"assetbank/internal/constants"
)

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger is a leveled printf-style logger writing to stdout and,
// once a state directory is configured, to an append-only log file.
type Logger struct {
	mu            sync.Mutex
	level         string
	file          *os.File
	writeToStdout bool
}

// NewLogger creates a stdout-only logger. Unknown levels fall back to debug.
func NewLogger(level string) *Logger {
	l := &Logger{level: normalizeLevel(level), writeToStdout: true}
	return l
}

func normalizeLevel(level string) string {
	switch level {
	case "debug", LevelDebug:
		return LevelDebug
	case "info", LevelInfo:
		return LevelInfo
	case "warn", LevelWarn:
		return LevelWarn
	case "error", LevelError:
		return LevelError
	}
	return LevelDebug
}

// SetStateDir enables file logging under dir. Pass an empty string to
// disable. The previous file handle, if any, is closed.
func (l *Logger) SetStateDir(dir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if dir == "" {
		return nil
	}

	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, constants.LogFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	l.file = f
	return nil
}

// Close closes the log file handle if file logging is enabled.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = normalizeLevel(level)
}

func (l *Logger) log(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelOrder[level] < levelOrder[l.level] {
		return
	}

	timestamp := time.Now().Format(constants.LogTimestampFormat)
	line := fmt.Sprintf("[%s] %s | %s\n", level, timestamp, fmt.Sprintf(format, args...))

	if l.writeToStdout {
		fmt.Print(line)
	}
	if l.file != nil {
		if _, err := l.file.WriteString(line); err != nil && l.writeToStdout {
			fmt.Printf("[LOGGER_ERROR] failed to write log file: %v\n", err)
		}
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }
