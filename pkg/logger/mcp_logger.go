// Package logger wraps zerolog behind the process-wide logging setup.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config for the root logger.
type Config struct {
	Level   string // debug, info, warn, error
	Service string
	Pretty  bool // console writer for local development
}

var (
	root zerolog.Logger
	once sync.Once
)

// Init initializes the root logger. Subsequent calls are no-ops.
func Init(cfg Config) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano

		var out = zerolog.New(os.Stderr)
		if cfg.Pretty {
			out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		}

		service := cfg.Service
		if service == "" {
			service = "outlook-mcp"
		}

		root = out.Level(parseLevel(cfg.Level)).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the root logger.
func Get() zerolog.Logger {
	Init(Config{})
	return root
}

// Component returns a logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}
