// Package logging owns the process-wide zerolog logger. Every other
// package logs through the helpers here (or a child made via With), so
// one Init call controls level, formatting, and the optional log file
// for the whole runtime.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Reassigned by Init; safe to copy
// into package-level `var log = logging.Logger` shorthands only after
// Init has run (the default from this package's own init covers tests
// and early startup).
var Logger zerolog.Logger

// activeFile is the open log file when file logging is on, nil otherwise.
var activeFile *os.File

// Level aliases zerolog's level type so callers don't import zerolog
// just to configure us.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config selects where and how the logger writes.
type Config struct {
	// Level is the minimum log level to output.
	Level Level
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Pretty enables human-readable console output.
	Pretty bool
	// TimeFormat specifies the time format. Defaults to RFC3339.
	TimeFormat string
	// LogToFile enables logging to a timestamped file in LogDir.
	LogToFile bool
	// LogDir is the directory for log files. Defaults to /tmp.
	LogDir string
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
		LogDir:     "/tmp",
	}
}

// Init (re)builds the process logger from cfg. Calling it again
// replaces the logger; a previously open log file is closed first, and
// a fresh timestamped file is opened if file logging remains enabled.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "/tmp"
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	sink := buildSink(cfg)
	Logger = zerolog.New(sink).Level(cfg.Level).With().Timestamp().Logger()
}

// buildSink assembles the console writer, wraps it for pretty mode, and
// tees in the log file when requested.
func buildSink(cfg Config) io.Writer {
	var console io.Writer = cfg.Output
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: cfg.TimeFormat}
	}

	Close()
	if !cfg.LogToFile {
		return console
	}

	stamp := time.Now().Format("20060102-150405")
	f, err := os.OpenFile(
		filepath.Join(cfg.LogDir, fmt.Sprintf("opencode-%s.log", stamp)),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		// console-only beats no logging at all
		return console
	}
	activeFile = f
	return zerolog.MultiLevelWriter(console, f)
}

// GetLogFilePath returns the current log file path, or "" when not
// logging to a file.
func GetLogFilePath() string {
	if activeFile == nil {
		return ""
	}
	return activeFile.Name()
}

// Close releases the log file if one is open. Console logging keeps
// working; only the file tee stops.
func Close() {
	if activeFile != nil {
		activeFile.Close()
		activeFile = nil
	}
}

// ParseLevel maps a level name (any case, surrounding space ignored) to
// its Level. Unrecognized input falls back to InfoLevel rather than
// erroring: a bad --log-level flag shouldn't kill the process.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Debug starts a debug-level event on the process logger.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info-level event on the process logger.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warn-level event on the process logger.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error-level event on the process logger.
func Error() *zerolog.Event { return Logger.Error() }

// Fatal starts a fatal-level event; finishing it exits the process.
func Fatal() *zerolog.Event { return Logger.Fatal() }

// With opens a child-logger context for attaching standing fields.
func With() zerolog.Context { return Logger.With() }

func init() {
	Init(DefaultConfig())
}
