// Package log wraps zerolog in a small value type that carries its own
// zerolog.Logger rather than reading a package-level global. The engine and
// queue packages do not use it; they log through zerolog's global logger
// (github.com/rs/zerolog/log).
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the subset of zerolog levels strata's diagnostics use.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures a Logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Logger is an engine-scoped handle onto a zerolog.Logger. It is copied by
// value; child loggers (With*) return new Loggers rather than mutating one
// shared instance, so no lock is needed beyond what zerolog itself provides
// for concurrent writes.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger from Config. Unset Level defaults to info; unset
// Output defaults to os.Stdout.
func New(cfg Config) Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var z zerolog.Logger
	if cfg.JSONOutput {
		z = zerolog.New(output).Level(level).With().Timestamp().Logger()
	} else {
		z = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Logger()
	}
	return Logger{z: z}
}

// Nop returns a Logger that discards everything; useful as a zero value for
// tests that don't care about log output.
func Nop() Logger {
	return Logger{z: zerolog.Nop()}
}

// WithComponent returns a child Logger tagged with a component field.
func (l Logger) WithComponent(component string) Logger {
	return Logger{z: l.z.With().Str("component", component).Logger()}
}

// WithRank returns a child Logger tagged with the calling rank.
func (l Logger) WithRank(rank int) Logger {
	return Logger{z: l.z.With().Int("rank", rank).Logger()}
}

// WithCheckpoint returns a child Logger tagged with a checkpoint's name and
// version, used throughout the orchestrator and level engines.
func (l Logger) WithCheckpoint(name string, version int) Logger {
	return Logger{z: l.z.With().Str("ckpt_name", name).Int("ckpt_version", version).Logger()}
}

func (l Logger) Debug(msg string) { l.z.Debug().Msg(msg) }
func (l Logger) Info(msg string)  { l.z.Info().Msg(msg) }
func (l Logger) Warn(msg string)  { l.z.Warn().Msg(msg) }
func (l Logger) Error(msg string) { l.z.Error().Msg(msg) }

// Errorf logs msg at error level with err attached as a structured field.
func (l Logger) Errorf(msg string, err error) { l.z.Error().Err(err).Msg(msg) }

// Fatal logs msg at fatal level. Per §7, ConfigInvalid and QueueFailure are
// the only errors that should route here; the engine does not call this
// for ordinary checkpoint/restore failures.
func (l Logger) Fatal(msg string) { l.z.Fatal().Msg(msg) }
