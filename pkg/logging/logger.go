// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

var levels = map[string]zerolog.Level{
	"":        zerolog.InfoLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// ParseLevel converts a LogLevel to a zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	if l, ok := levels[level.normalized()]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// Validate rejects levels ParseLevel would silently turn into info.
func (l LogLevel) Validate() error {
	if _, ok := levels[l.normalized()]; !ok {
		return fmt.Errorf("unknown log level %q (want debug, info, warn or error)", string(l))
	}
	return nil
}

func (l LogLevel) normalized() string {
	return strings.ToLower(strings.TrimSpace(string(l)))
}

// Component derives a logger tagged with the emitting package.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}

// NewLogger derives a component logger from the global one.
func NewLogger(component string) zerolog.Logger {
	return Component(log.Logger, component)
}

// Log Level Guidelines:
//
// Debug: request flow (URL, attempt, cache hit/miss), rate limit header updates
// Info: export started/finished, page progress, files written, mutations succeeded
// Warn: retries, throttling, skipped pages, per-record filter evaluation errors
// Error: terminal page failures, failed mutations, configuration errors
//
// Context Fields:
//   - component: emitting package (client, pagination, ratelimit, bulk, ...)
//   - run_id: CLI invocation id
//   - resource: catalog resource name (tickets, triggers, ...)
//   - endpoint / url: request target
//   - page: 1-based page number within one pipeline run
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - records: record count for the page or file
