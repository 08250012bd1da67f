package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the process-wide logger. It discards output until Init runs.
	Logger = zerolog.Nop()
)

// Init configures the global logger for the given level name.
func Init(level string) {
	InitWithWriter(level, os.Stdout)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(level string, out io.Writer) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	output := out
	if os.Getenv("ENV") == "development" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Msg("logger initialized")
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRule tags a component logger with the rule being processed.
func WithRule(l zerolog.Logger, ruleID, tenantID string) zerolog.Logger {
	return l.With().Str("rule_id", ruleID).Str("tenant_id", tenantID).Logger()
}

// WithEntry tags a component logger with an outbox entry.
func WithEntry(l zerolog.Logger, entryID, tenantID string) zerolog.Logger {
	return l.With().Str("entry_id", entryID).Str("tenant_id", tenantID).Logger()
}
