package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`

	// Format is the output format (json, console, pretty).
	Format string `mapstructure:"format"`

	// Output is the output destination (stdout, stderr).
	Output string `mapstructure:"output"`

	// AddSource adds source file and line number to log entries.
	AddSource bool `mapstructure:"add_source"`

	// TimeFormat is the time format for timestamps.
	TimeFormat string `mapstructure:"time_format"`
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var output io.Writer

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}

	return NewLoggerWithWriter(cfg, output)
}

// NewLoggerWithWriter creates a logger writing to w. Output is ignored.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	// Console output for interactive runs.
	if f := strings.ToLower(cfg.Format); f == "console" || f == "pretty" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	logger := zerolog.New(w).With().Timestamp()
	if cfg.AddSource {
		logger = logger.Caller()
	}

	return logger.Logger().Level(parseLevel(cfg.Level))
}

// parseLevel converts a string log level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithRunContext adds the run and provider to a logger.
func WithRunContext(logger zerolog.Logger, runID, provider string) zerolog.Logger {
	return logger.With().
		Str("run_id", runID).
		Str("provider", provider).
		Logger()
}

// WithItemContext adds item fields to a logger.
func WithItemContext(logger zerolog.Logger, itemKey, link string) zerolog.Logger {
	return logger.With().
		Str("item", itemKey).
		Str("link", link).
		Logger()
}

// WithPageContext adds results page fields to a logger.
func WithPageContext(logger zerolog.Logger, page, totalPages int) zerolog.Logger {
	return logger.With().
		Int("page", page).
		Int("total_pages", totalPages).
		Logger()
}
