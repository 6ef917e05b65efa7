package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the global logger instance
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileWriter *lumberjack.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// File, when set, additionally writes JSON lines to a rotated log file
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init initializes the global logger
func Init(cfg Config) {
	SetLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
	if cfg.File != "" {
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		output = zerolog.MultiLevelWriter(output, fileWriter)
	}

	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// SetLevel changes the global level without rebuilding the logger
func SetLevel(level Level) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// Close releases the rotated log file, if any
func Close() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// ParseLevel maps a configured level to a zerolog level, defaulting to info
func ParseLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithModule creates a child logger for a supervised module
func WithModule(module string) zerolog.Logger {
	return Logger.With().Str("component", "module").Str("module", module).Logger()
}

// WithNamespace creates a child logger with namespace field
func WithNamespace(namespace string) zerolog.Logger {
	return Logger.With().Str("component", "statebus").Str("namespace", namespace).Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}
