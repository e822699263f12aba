// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

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
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Service is attached to every entry when non-empty.
	Service string `yaml:"service"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Service: "hn-client",
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel validates a level name coming from flags or config files.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-item detail
//   - Item lookups, cache hit/miss, conditional requests
//   - Tree levels entered, depth truncation
//   - Busy-flag drops in the feed controller
//
// Info: normal operation
//   - Listing refreshed, page appended
//   - Comment tree loaded (node count, duration)
//   - Server startup/shutdown, store housekeeping
//
// Warn: degraded but continuing
//   - Item lookup failed (item omitted)
//   - Retry attempts, upstream throttling
//   - Cache or store errors that fall back to direct requests
//
// Error: the operation failed
//   - Listing fetch failed (feed left empty)
//   - Root level of a tree unavailable
//   - Summarization retries exhausted
//
// Context Fields:
//   - id: item ID
//   - ids: number of IDs in a batch
//   - depth: tree depth
//   - category: listing category
//   - cursor: feed cursor position
//   - endpoint: API path
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - duration: elapsed time
