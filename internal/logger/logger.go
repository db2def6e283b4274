// Package logger builds the zerolog instances shared by the dispatch
// binaries: one root logger per process, component-tagged children
// everywhere else.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process root logger. Level names follow zerolog ("trace"
// through "fatal"); an empty level means info. Development environments
// get human-readable console lines, everything else emits JSON with
// RFC3339 timestamps for ingestion. Supplied writers override the
// environment default, which is how tests capture output.
func New(env, level string, writers ...io.Writer) (*zerolog.Logger, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = zerolog.LevelInfoValue
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("logger: unknown level %q: %w", level, err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	log := zerolog.New(output(env, writers)).Level(lvl).With().Timestamp().Logger()
	return &log, nil
}

func output(env string, writers []io.Writer) io.Writer {
	switch {
	case len(writers) == 1:
		return writers[0]
	case len(writers) > 1:
		return io.MultiWriter(writers...)
	case isDevelopment(env):
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	default:
		return os.Stdout
	}
}

func isDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// Component derives a child logger tagged with a component name. A nil
// base yields the nop logger so optional wiring never panics.
func Component(base *zerolog.Logger, name string) zerolog.Logger {
	if base == nil {
		return zerolog.Nop()
	}
	return base.With().Str("component", name).Logger()
}
