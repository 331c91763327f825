package core

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/qbgo/core/pipe"
	"github.com/adred-codev/qbgo/internal/metrics"
)

// Config is the set of knobs Main needs to stand up a shard pool. It
// mirrors internal/config.RuntimeConfig rather than importing it, keeping
// package core independent of the application's env-var loading.
type Config struct {
	ShardCount         int
	TickPeriod         time.Duration
	ReactorGranularity time.Duration
	PipeInitialSlots   int
	PipeMaxSlots       int
	PipeSendTimeout    time.Duration
	DrainBatchEvents   int
}

func (c Config) shardConfig() ShardConfig {
	return ShardConfig{
		TickPeriod:         c.TickPeriod,
		ReactorGranularity: c.ReactorGranularity,
		PipeInitialSlots:   c.PipeInitialSlots,
		PipeMaxSlots:       c.PipeMaxSlots,
		PipeSendTimeout:    c.PipeSendTimeout,
		DrainBatchEvents:   c.DrainBatchEvents,
	}
}

// Main is the process supervisor of spec.md §4.9: it owns shard creation,
// the N×(N-1) cross-shard pipe mesh, barrier-synchronized start, and
// signal-driven graceful stop.
//
// Grounded on the teacher's root main.go (flag parsing, LoadConfig,
// signal.Notify(SIGINT/SIGTERM), Shutdown-with-timeout) and
// sharded.MessageRouter's shard fan-out in sharded/router.go, generalized
// from "N hash-partitioned client shards" to "N actor-hosting shards wired
// with a full pipe mesh between every ordered pair".
type Main struct {
	cfg    Config
	logger zerolog.Logger
	metrics *metrics.Metrics

	shards []*Shard
	ready  sync.WaitGroup
	wg     sync.WaitGroup

	started bool
}

// Builder constructs and attaches actors to a specific shard before Start.
// Its zero value is not usable; obtain one from Main.Core.
type Builder struct {
	shard *Main
	index uint16
}

// New creates a Main with cfg.ShardCount shards (each with its own reactor
// and pipe mesh already wired), logging via logger and recording metrics on
// met. Shards are constructed but not yet running; call Start to begin
// ticking.
func New(cfg Config, logger zerolog.Logger, met *metrics.Metrics) (*Main, error) {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	m := &Main{cfg: cfg, logger: logger, metrics: met}

	shardCfg := cfg.shardConfig()
	m.shards = make([]*Shard, cfg.ShardCount)
	for i := 0; i < cfg.ShardCount; i++ {
		s, err := newShard(uint16(i), m, shardCfg, logger, met)
		if err != nil {
			return nil, fmt.Errorf("core: shard %d init: %w", i, err)
		}
		m.shards[i] = s
	}

	// Wire the full N×(N-1) mesh of cross-shard pipes (spec.md §4.2: "one
	// Ring per ordered (producer shard, consumer shard) pair"). Each
	// consumer shard's own Doorbell is shared by every producing peer's
	// Ring into it, so any peer committing an event wakes that consumer's
	// reactor promptly (see core/pipe/ring.go's SetDoorbell).
	for i := 0; i < cfg.ShardCount; i++ {
		for j := 0; j < cfg.ShardCount; j++ {
			if i == j {
				continue
			}
			// r carries events produced by shard i to shard j.
			r := pipe.NewRing(cfg.PipeInitialSlots, cfg.PipeMaxSlots)
			if db := m.shards[j].doorbell; db != nil {
				r.SetDoorbell(db)
			}
			m.shards[i].setOutbound(uint16(j), r)
			m.shards[j].setInbound(uint16(i), r)
		}
	}

	return m, nil
}

// ShardCount returns the number of shards this Main was constructed with.
func (m *Main) ShardCount() int { return len(m.shards) }

// Core returns a Builder bound to the given shard index, for attaching
// actors before Start. Panics if index is out of range: this is a
// programming error at wiring time, not a runtime condition.
func (m *Main) Core(index int) *Builder {
	if index < 0 || index >= len(m.shards) {
		panic(fmt.Sprintf("core: shard index %d out of range [0,%d)", index, len(m.shards)))
	}
	return &Builder{shard: m, index: uint16(index)}
}

// AddActor spawns the already-constructed actor a on the builder's shard,
// returning its assigned ActorId. Must be called before Start: actor
// construction this way is synchronous and runs on the calling goroutine,
// not the shard's own (the shard goroutine does not exist yet).
func (b *Builder) AddActor(a Actor) (ActorId, error) {
	s := b.shard.shards[b.index]
	return s.spawn(a)
}

// Shard returns the underlying Shard for advanced wiring (e.g. an acceptor
// actor that needs Reactor() to register a listening socket at OnInit).
func (b *Builder) Shard() *Shard { return b.shard.shards[b.index] }

// Start launches every shard's tick loop goroutine, blocking until every
// goroutine has locked its OS thread and is about to enter its tick loop
// (spec.md §4.9 "barrier-synchronized start"). If blocking is true, Start
// also installs a SIGINT/SIGTERM handler and blocks until either signal
// arrives, then calls Stop and Join itself before returning.
func (m *Main) Start(blocking bool) error {
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	m.ready.Add(len(m.shards))
	m.wg.Add(len(m.shards))
	for _, s := range m.shards {
		s := s
		go func() {
			defer m.wg.Done()
			s.Run(&m.ready)
		}()
	}
	m.ready.Wait()
	m.logger.Info().Int("shards", len(m.shards)).Msg("runtime started")

	if !blocking {
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	m.logger.Info().Msg("signal received, stopping runtime")
	m.Stop()
	m.Join()
	return nil
}

// Stop requests every shard to finish its current tick and exit. It does
// not block; call Join to wait for shutdown to complete.
func (m *Main) Stop() {
	for _, s := range m.shards {
		s.requestStop()
	}
}

// Join blocks until every shard goroutine has returned.
func (m *Main) Join() {
	m.wg.Wait()
}

// HasError reports whether any shard's error flag is set. The only path
// that sets it, reactor initialization failure, also makes New return an
// error, so a Main obtained from New reports false.
func (m *Main) HasError() bool {
	for _, s := range m.shards {
		if s.HasError() {
			return true
		}
	}
	return false
}
