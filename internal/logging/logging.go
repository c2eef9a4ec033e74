package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

// Config controls where and how log records are written.
type Config struct {
	Level  string
	Format string // "text" or "json"
	Writer io.Writer
}

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	logger       = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	envOnce      sync.Once
)

// initFromEnv applies DEBUG / LOG_LEVEL once unless Init was called first.
func initFromEnv() {
	envOnce.Do(func() {
		if debug := os.Getenv("DEBUG"); debug != "" {
			switch strings.ToLower(debug) {
			case "1", "true", "yes", "on":
				setLevel(LevelDebug)
				return
			}
		}
		setLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
	})
}

// Init installs a slog handler built from cfg and makes it the process default.
func Init(cfg Config) {
	envOnce.Do(func() {})

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}

	// The handler accepts everything; filtering happens against currentLevel
	// so SetLevel can change verbosity at runtime.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	mu.Lock()
	logger = slog.New(handler)
	currentLevel = ParseLevel(cfg.Level)
	mu.Unlock()

	slog.SetDefault(logger)
}

// ParseLevel maps a level name to a LogLevel. Unknown names map to info.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func setLevel(l LogLevel) {
	mu.Lock()
	currentLevel = l
	mu.Unlock()
}

// SetLevel changes the active log level.
func SetLevel(l LogLevel) {
	initFromEnv()
	setLevel(l)
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initFromEnv()
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func emit(l *slog.Logger, level LogLevel, format string, args []interface{}) {
	if GetLevel() > level {
		return
	}
	l.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, args...))
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	emit(current(), LevelDebug, format, args)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	emit(current(), LevelInfo, format, args)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	emit(current(), LevelWarn, format, args)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	emit(current(), LevelError, format, args)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	current().Log(context.Background(), slog.LevelError+4, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Logger is a component-scoped logger with the same printf-style API as the
// package-level functions.
type Logger struct {
	attrs []any
}

// With returns a logger that tags every record with component=name.
func With(component string) *Logger {
	return &Logger{attrs: []any{"component", component}}
}

// With returns a copy of l with additional key/value attributes.
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)
	return &Logger{attrs: attrs}
}

func (l *Logger) handle() *slog.Logger {
	return current().With(l.attrs...)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	emit(l.handle(), LevelDebug, format, args)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	emit(l.handle(), LevelInfo, format, args)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	emit(l.handle(), LevelWarn, format, args)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	emit(l.handle(), LevelError, format, args)
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
