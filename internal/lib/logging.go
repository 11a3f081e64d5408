package lib

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates the root logger. Verbose enables debug-level output;
// otherwise info and above.
func NewLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewConsoleLogger creates a human-readable logger for CLI use.
func NewConsoleLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewTestLogger creates a silent logger for tests.
func NewTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// ComponentLogger derives a logger tagged with the owning component.
func ComponentLogger(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogRetry logs one retry attempt.
func LogRetry(logger zerolog.Logger, operation string, attempt int, maxAttempts int, err error) {
	// Strip line breaks to prevent log spoofing
	safeOperation := strings.NewReplacer("\n", "", "\r", "").Replace(operation)
	logger.Warn().
		Str("operation", safeOperation).
		Int("attempt", attempt+1).
		Int("max_attempts", maxAttempts).
		Err(err).
		Msg("retrying operation")
}

// LogServiceResponse logs a remote API response at a level matching its
// status.
func LogServiceResponse(logger zerolog.Logger, service string, statusCode int, duration time.Duration) {
	event := logger.Debug()
	if statusCode >= 400 {
		event = logger.Warn()
	}
	event.
		Str("service", service).
		Int("status", statusCode).
		Dur("duration", duration).
		Msg("service response")
}
