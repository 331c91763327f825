// Package config loads runtime configuration from a .env file (optional)
// and environment variables, adapted from the teacher's LoadConfig pattern
// (ws/config.go and old_ws/config.go: godotenv.Load() best-effort, then
// env.Parse into a struct with `env`/`envDefault` tags, then Validate()).
// Generalized from WebSocket-server settings (WS_ADDR, KAFKA_BROKERS, ...)
// onto the actor runtime's own knobs: shard count, tick period, reactor
// granularity, pipe sizing, and the ambient logging/metrics/NATS sections.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-tunable runtime setting.
type Config struct {
	Runtime RuntimeConfig
	Net     NetConfig
	Metrics MetricsConfig
	Logging LoggingConfig
	NATS    NATSConfig
}

// RuntimeConfig controls scheduler shape.
type RuntimeConfig struct {
	ShardCount         int           `env:"ACTOR_SHARD_COUNT" envDefault:"0"` // not read by cmd/pingpong or cmd/echo (both start 2 shards); core.New treats <= 0 as 1
	TickPeriod         time.Duration `env:"ACTOR_TICK_PERIOD" envDefault:"1ms"`
	ReactorGranularity time.Duration `env:"ACTOR_REACTOR_GRANULARITY" envDefault:"10ms"`
	PipeInitialSlots   int           `env:"ACTOR_PIPE_INITIAL_SLOTS" envDefault:"1024"`
	PipeMaxSlots       int           `env:"ACTOR_PIPE_MAX_SLOTS" envDefault:"1048576"`
	PipeSendTimeout    time.Duration `env:"ACTOR_PIPE_SEND_TIMEOUT" envDefault:"2s"`
	DrainBatchEvents   int           `env:"ACTOR_DRAIN_BATCH_EVENTS" envDefault:"1024"`
}

// NetConfig controls the default listen address used by example/acceptor
// actors (out-of-core application concern, but shared across cmd/ demos).
type NetConfig struct {
	ListenAddr string `env:"ACTOR_LISTEN_ADDR" envDefault:":0"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `env:"ACTOR_METRICS_ENABLED" envDefault:"true"`
	ListenAddr string `env:"ACTOR_METRICS_ADDR" envDefault:":9095"`
}

// LoggingConfig controls zerolog level/format.
type LoggingConfig struct {
	Level  string `env:"ACTOR_LOG_LEVEL" envDefault:"info"`
	Format string `env:"ACTOR_LOG_FORMAT" envDefault:"json"`
}

// NATSConfig controls the optional NATS bridge actor.
type NATSConfig struct {
	URL     string `env:"ACTOR_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Enabled bool   `env:"ACTOR_NATS_ENABLED" envDefault:"false"`
}

// Load reads a .env file if present (ignored if missing, same as the
// teacher's "OK without .env in production containers" comment) then
// parses environment variables into Config, applying defaults and
// validating the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file: fine, environment variables alone are enough.
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field invariants the way the teacher's
// Config.Validate does for its own settings.
func (c *Config) Validate() error {
	if c.Runtime.TickPeriod <= 0 {
		return fmt.Errorf("ACTOR_TICK_PERIOD must be > 0")
	}
	if c.Runtime.ReactorGranularity <= 0 {
		return fmt.Errorf("ACTOR_REACTOR_GRANULARITY must be > 0")
	}
	if c.Runtime.PipeMaxSlots < c.Runtime.PipeInitialSlots {
		return fmt.Errorf("ACTOR_PIPE_MAX_SLOTS must be >= ACTOR_PIPE_INITIAL_SLOTS")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("ACTOR_LOG_LEVEL must be one of debug,info,warn,error (got %q)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("ACTOR_LOG_FORMAT must be one of json,pretty (got %q)", c.Logging.Format)
	}
	return nil
}
