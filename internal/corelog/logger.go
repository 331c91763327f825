// Package corelog wires the runtime's structured logging onto
// github.com/rs/zerolog, adapted directly from the teacher's logger.go
// (NewLogger/LoggerConfig/LogError/LogErrorWithStack/LogPanic): same
// level/format knobs, same JSON-by-default-with-pretty-console-override
// behaviour, generalized from a single "ws-server" service name to a
// per-component sub-logger so the scheduler, reactor, pipes and sessions
// each tag their own log lines.
package corelog

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's LogLevel enum.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Format mirrors the teacher's LogFormat enum.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config holds logger configuration, renamed from the teacher's
// LoggerConfig to avoid colliding with internal/config.Config.
type Config struct {
	Level   Level
	Format  Format
	Service string
}

// New creates a structured root logger. Application code then derives
// per-component loggers from it with Component.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	case LevelFatal:
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "actor-runtime"
	}

	return zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Component derives a sub-logger tagged with the owning subsystem, e.g.
// Component(root, "shard.3") or Component(root, "reactor").
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// Error logs err with contextual fields, mirroring the teacher's LogError.
func Error(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// ErrorWithStack logs err plus a captured stack trace, mirroring the
// teacher's LogErrorWithStack — used at the shard dispatch boundary when a
// handler panics (spec.md §7: "Handlers may throw; the shard catches at
// the dispatch boundary, logs, marks the actor killed, and continues").
func ErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err).Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
