// Package logger provides camlink's leveled logging facade, backed by
// github.com/rs/zerolog. Components accept an injected *Logger (or fall
// back to the package default) and attach structured fields such as
// frame_id, packet_id, retries and peer rather than formatting them into
// message strings.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's levels under names the rest of camlink already
// expects.
type Level int

const (
	// LevelError shows only error messages.
	LevelError Level = iota
	// LevelWarn shows warnings and errors.
	LevelWarn
	// LevelInfo shows informational messages, warnings, and errors (default).
	LevelInfo
	// LevelDebug shows all messages including detailed debug information.
	LevelDebug
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// String returns the level's name.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string level name into a Level.
func ParseLevel(levelStr string) (Level, error) {
	switch levelStr {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (valid levels: error, warn, info, debug)", levelStr)
	}
}

// Format selects the console-pretty or JSON output writer.
type Format int

const (
	// FormatConsole produces human-readable, colorized output — the
	// default for interactive CLI use.
	FormatConsole Format = iota
	// FormatJSON produces one JSON object per line, suited to log
	// aggregation.
	FormatJSON
)

// Logger wraps a zerolog.Logger and remembers its configured Level so
// GetLevel can report it back (zerolog itself is write-only about its
// level once constructed).
type Logger struct {
	level Level
	zl    zerolog.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = New(LevelInfo, FormatConsole)
}

// New builds a Logger writing to stderr at the given level and format.
func New(level Level, format Format) *Logger {
	var writer = os.Stderr
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var zl zerolog.Logger
	if format == FormatJSON {
		zl = zerolog.New(writer).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	zl = zl.Level(level.zerolog())

	return &Logger{level: level, zl: zl}
}

// With returns a child logger carrying an additional structured field,
// useful for attaching a per-instance session id once and reusing the
// result for every subsequent log line.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{level: l.level, zl: l.zl.With().Interface(key, value).Logger()}
}

// WithStr is With specialized for string values, the common case.
func (l *Logger) WithStr(key, value string) *Logger {
	return &Logger{level: l.level, zl: l.zl.With().Str(key, value).Logger()}
}

// SetLevel changes the logger's active level.
func (l *Logger) SetLevel(level Level) {
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

// GetLevel returns the logger's active level.
func (l *Logger) GetLevel() Level {
	return l.level
}

// Zerolog exposes the underlying zerolog.Logger for callers that want the
// full chained-call API (e.g. attaching several fields before Msg).
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// Error logs an error-level message with an optional error value and
// structured fields. fields must be an even-length list of alternating
// string keys and values.
func (l *Logger) Error(err error, msg string, fields ...interface{}) {
	event := l.zl.Error()
	if err != nil {
		event = event.Err(err)
	}
	logEvent(event, msg, fields...)
}

// Warn logs a warning-level message with structured fields.
func (l *Logger) Warn(msg string, fields ...interface{}) {
	logEvent(l.zl.Warn(), msg, fields...)
}

// Info logs an informational message with structured fields.
func (l *Logger) Info(msg string, fields ...interface{}) {
	logEvent(l.zl.Info(), msg, fields...)
}

// Debug logs a debug message with structured fields.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	logEvent(l.zl.Debug(), msg, fields...)
}

func logEvent(event *zerolog.Event, msg string, fields ...interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) { defaultLogger.SetLevel(level) }

// GetLevel returns the default logger's level.
func GetLevel() Level { return defaultLogger.GetLevel() }

// SetDefault replaces the package-level default logger, typically called
// once at process startup after parsing configuration.
func SetDefault(l *Logger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() *Logger { return defaultLogger }

// Error logs through the default logger.
func Error(err error, msg string, fields ...interface{}) { defaultLogger.Error(err, msg, fields...) }

// Warn logs through the default logger.
func Warn(msg string, fields ...interface{}) { defaultLogger.Warn(msg, fields...) }

// Info logs through the default logger.
func Info(msg string, fields ...interface{}) { defaultLogger.Info(msg, fields...) }

// Debug logs through the default logger.
func Debug(msg string, fields ...interface{}) { defaultLogger.Debug(msg, fields...) }
