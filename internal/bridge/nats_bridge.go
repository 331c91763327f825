// Package bridge adapts the teacher's connectNATS/handleNATSMessage
// JetStream subscription loop (sharded/server.go) into an event source for
// the actor runtime: NatsBridge subscribes to a subject on the NATS
// client's own goroutine and re-publishes each message as a typed event
// into a target actor's shard, through the same external-ring/doorbell
// path a shard uses for any non-socket input (spec.md §6, "everything is
// an event").
//
// The teacher's handleNATSMessage comment warns "CRITICAL: called from
// NATS library's goroutine, must be fast" — the same constraint applies
// here, which is why delivery goes through a lock-free Ring rather than
// calling into shard state directly: a shard's fields are only safe to
// touch from its own tick goroutine.
package bridge

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/qbgo/core"
	"github.com/adred-codev/qbgo/core/pipe"
	"github.com/adred-codev/qbgo/internal/corelog"
	"github.com/adred-codev/qbgo/internal/metrics"
)

// Decode turns one NATS message's subject and payload into a typed event
// destined for Config.Target. Returning a nil payload drops the message
// (e.g. an unrecognized subject suffix).
type Decode func(subject string, data []byte) (core.TypeID, any, error)

// Config groups a NatsBridge's construction-time dependencies.
type Config struct {
	Conn    *nats.Conn
	Subject string
	Target  core.ActorId
	Shard   *core.Shard // the shard that owns Target; the bridge attaches its ring here
	Decode  Decode

	RingInitialSlots int
	RingMaxSlots     int
	SendTimeout      time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// NatsBridge subscribes to one NATS subject and feeds decoded messages to
// a single target actor, generalized from the teacher's single
// process-wide JetStream consumer into a reusable per-subject/per-actor
// component any application can attach.
type NatsBridge struct {
	cfg  Config
	ring *pipe.Ring
	sub  *nats.Subscription
}

// New constructs a bridge and wires its delivery ring into cfg.Shard. Call
// Start once cfg.Conn is connected to begin subscribing.
func New(cfg Config) *NatsBridge {
	if cfg.RingInitialSlots <= 0 {
		cfg.RingInitialSlots = 256
	}
	if cfg.RingMaxSlots <= 0 {
		cfg.RingMaxSlots = 8192
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}

	ring := pipe.NewRing(cfg.RingInitialSlots, cfg.RingMaxSlots)
	ring.SetDoorbell(cfg.Shard.Doorbell())
	cfg.Shard.AttachExternal(ring)

	return &NatsBridge{cfg: cfg, ring: ring}
}

// Start subscribes to the configured subject. Each inbound message is
// decoded and enqueued from the NATS client's delivery goroutine.
func (b *NatsBridge) Start() error {
	sub, err := b.cfg.Conn.Subscribe(b.cfg.Subject, b.handleMessage)
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// Stop unsubscribes, releasing the NATS-side delivery goroutine.
func (b *NatsBridge) Stop() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

func (b *NatsBridge) handleMessage(msg *nats.Msg) {
	typeID, payload, err := b.cfg.Decode(msg.Subject, msg.Data)
	if err != nil {
		corelog.Error(b.cfg.Logger, err, "bridge: failed to decode NATS message", map[string]any{
			"subject": msg.Subject,
		})
		return
	}
	if payload == nil {
		return
	}

	env := &core.Envelope{
		TypeID:  typeID,
		Flags:   core.FlagAlive,
		Dest:    b.cfg.Target,
		Source:  core.NullId,
		Payload: payload,
	}
	if err := b.ring.Send(env, b.cfg.SendTimeout, b.cfg.SendTimeout*8); err != nil {
		b.cfg.Metrics.PipeBackpressure.Inc()
		corelog.Error(b.cfg.Logger, err, "bridge: dropped NATS message, target shard's external pipe is full", nil)
	}
}
