package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/ubuntu/eofetch/internal/constants"
)

// SetVerbosity sets the logging level of the default logger from the count of verbose flags.
//
// This function has the same behaviors as slog.SetLogLoggerLevel.
func SetVerbosity(level int) {
	slog.SetLogLoggerLevel(LogLevel(level))
}

// SetSlog configures the default logger from the count of verbose flags.
// Logs go to stderr, leaving stdout to command output.
func SetSlog(level int, jsonLogs bool) {
	if jsonLogs {
		slog.SetDefault(NewJSONLogger(os.Stderr, level))
		return
	}

	SetVerbosity(level)
}

// NewJSONLogger returns a logger writing JSON records to w.
// Records carry their source location from the debug level.
func NewJSONLogger(w io.Writer, level int) *slog.Logger {
	l := LogLevel(level)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     l,
		AddSource: l <= slog.LevelDebug,
	}))
}

// LogLevel maps a count of verbose flags to a log level.
func LogLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return constants.DefaultLogLevel
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
