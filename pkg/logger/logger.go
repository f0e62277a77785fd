package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TradeLevel is a custom zerolog level reserved for decision-trace and
// swap-outcome events. It sits between Info and Warn so it
// survives at the engine's normal verbosity without being mistaken for
// an operational problem.
const TradeLevel zerolog.Level = zerolog.InfoLevel + 1

func init() {
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == TradeLevel {
			return "TRADE"
		}
		return l.String()
	}
}

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // Enable pretty console output
}

// New creates a new structured logger
func New(cfg Config) zerolog.Logger {
	// Parse log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	// Configure output
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}

// Trade logs at the custom TRADE level, used for decision-trace and swap
// outcome events that back the decision-log query surface.
func Trade(l zerolog.Logger) *zerolog.Event {
	return l.WithLevel(TradeLevel)
}
