package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
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

	// Hub, when set, receives a copy of every log line as JSON
	Hub *Hub
}

// Init initializes the global logger. An unknown level falls back to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	// The hub always gets the raw JSON encoding, whatever the console format
	if cfg.Hub != nil {
		output = zerolog.MultiLevelWriter(output, cfg.Hub)
	}

	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger with the component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithPath creates a child logger with the object path field
func WithPath(l zerolog.Logger, path string) zerolog.Logger {
	return l.With().Str("path", path).Logger()
}

// WithPeer creates a child logger with the peer node field
func WithPeer(l zerolog.Logger, peer string) zerolog.Logger {
	return l.With().Str("peer", peer).Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
