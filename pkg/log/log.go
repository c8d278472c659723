// Package log configures the process-wide zerolog logger shared by every
// orbit source and command.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. It is the zero value (a no-op
// logger) until Init is called.
var Logger zerolog.Logger

// Level names a logging verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger from cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with the emitting package
// ("cache", "source.memory", "translog", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSourceName creates a child logger tagged with a source's name.
func WithSourceName(name string) zerolog.Logger {
	return Logger.With().Str("source", name).Logger()
}

// WithTransformID creates a child logger tagged with a transform's ID.
func WithTransformID(id string) zerolog.Logger {
	return Logger.With().Str("transform_id", id).Logger()
}

// Info logs msg at info level on the global logger.
func Info(msg string) {
	Logger.Info().Msg(msg)
}

// Debug logs msg at debug level on the global logger.
func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

// Warn logs msg at warn level on the global logger.
func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Error logs msg at error level on the global logger.
func Error(msg string) {
	Logger.Error().Msg(msg)
}

// Errorf logs err at error level with msg as context.
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}

// Fatal logs msg at fatal level and terminates the process.
func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
