package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/kimnauryz/ai-sarbaz/pkg/config"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger provides leveled, component-scoped key/value logging
type Logger struct {
	level     LogLevel
	logger    *log.Logger
	file      *os.File
	component string
}

var defaultLogger *Logger

// Init initializes the default logger from the global config
func Init() error {
	if defaultLogger != nil {
		return nil
	}

	settings := config.Get()
	level := parseLevel(settings.Logging.Level)

	logger, err := New(level, settings.Logging.LogFile, settings.Logging.Persist)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defaultLogger = logger
	return nil
}

// New creates a new Logger writing to the given file path
func New(level LogLevel, logFile string, persist bool) (*Logger, error) {
	logPath := logFile
	if !filepath.IsAbs(logPath) {
		home, err := os.UserHomeDir()
		if err == nil {
			logPath = filepath.Join(home, ".sarbaz", filepath.Base(logPath))
		}
	}

	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if persist {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		level:  level,
		logger: log.New(file, "", log.LstdFlags),
		file:   file,
	}, nil
}

// WithComponent returns a logger scoped to the given component name
func WithComponent(component string) *Logger {
	if defaultLogger == nil {
		// Not initialized, log to stderr so messages are not lost
		return &Logger{
			level:     LevelInfo,
			logger:    log.New(os.Stderr, "", log.LstdFlags),
			component: component,
		}
	}
	return defaultLogger.WithComponent(component)
}

// WithComponent returns a copy of the logger scoped to the component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		level:     l.level,
		logger:    l.logger,
		file:      l.file,
		component: component,
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// parseLevel converts a string level to LogLevel
func parseLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.level
}

// log writes a message with key/value pairs if the level is appropriate
func (l *Logger) log(level LogLevel, msg string, keyvals ...any) {
	if !l.shouldLog(level) {
		return
	}

	var b strings.Builder
	b.WriteString("[" + level.String() + "]")
	if l.component != "" {
		b.WriteString(" [" + l.component + "]")
	}
	b.WriteString(" " + msg)

	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	if len(keyvals)%2 != 0 {
		fmt.Fprintf(&b, " %v=?", keyvals[len(keyvals)-1])
	}

	line := b.String()
	l.logger.Print(line)

	if level >= LevelError {
		fmt.Fprintln(os.Stderr, line)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.log(LevelDebug, msg, keyvals...)
}

// Info logs an info message
func (l *Logger) Info(msg string, keyvals ...any) {
	l.log(LevelInfo, msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.log(LevelWarn, msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...any) {
	l.log(LevelError, msg, keyvals...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, keyvals ...any) {
	l.log(LevelFatal, msg, keyvals...)
	os.Exit(1)
}

// Package-level convenience functions using the default logger

func Debug(msg string, keyvals ...any) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Debug(msg, keyvals...)
}

func Info(msg string, keyvals ...any) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Info(msg, keyvals...)
}

func Warn(msg string, keyvals ...any) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Warn(msg, keyvals...)
}

func Error(msg string, keyvals ...any) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Error(msg, keyvals...)
}

// SetOutput sets the output writer for the logger (useful for testing)
func SetOutput(w io.Writer) {
	if defaultLogger != nil && defaultLogger.logger != nil {
		defaultLogger.logger.SetOutput(w)
	}
}

// Close closes the default logger
func Close() error {
	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}
