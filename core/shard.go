package core

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/qbgo/core/pipe"
	"github.com/adred-codev/qbgo/core/reactor"
	"github.com/adred-codev/qbgo/internal/corelog"
	"github.com/adred-codev/qbgo/internal/metrics"
)

// PipeFullError is the synthesised event a sender receives when an
// outbound cross-shard send could not be committed before its backpressure
// timeout elapsed (spec.md §7 "PipeFull ... Surfaced as: Synthesised event
// to sender actor").
type PipeFullError struct {
	Dest   ActorId
	TypeID TypeID
}

// ShardConfig is the subset of internal/config.RuntimeConfig a Shard needs;
// kept separate so package core has no dependency on internal/config.
type ShardConfig struct {
	TickPeriod       time.Duration
	ReactorGranularity time.Duration
	PipeInitialSlots int
	PipeMaxSlots     int
	PipeSendTimeout  time.Duration
	DrainBatchEvents int
}

// Shard is one single-threaded execution context: spec.md §3 "Shard
// (core)". Every method on Shard, except the handful explicitly documented
// as cross-shard-safe (Stop, peer wiring at construction time), must only
// be called from the goroutine running Run.
//
// Grounded on sharded.Shard in the teacher (sharded/shard.go): that type's
// single-goroutine-owns-all-state design ("CRITICAL DESIGN: All state is
// accessed by ONE goroutine") is exactly spec.md's shard model. Where the
// teacher dispatches on five hardcoded channels (register/unregister/
// subscribe/unsubscribe/broadcast), Shard generalizes to the six-step,
// type-erased event tick of spec.md §4.8.
type Shard struct {
	index uint16
	main  *Main
	cfg   ShardConfig

	logger  zerolog.Logger
	metrics *metrics.Metrics

	actors   []Actor
	inboxes  []*pipe.Local

	// nextFree is the head of a free list threaded through freeNext,
	// reusing reaped slots instead of growing actors/inboxes forever.
	// 0 means "no free slot" (slot 0 is permanently reserved for
	// broadcast and never enters the free list).
	nextFree uint16
	freeNext []uint16

	outbound map[uint16]*pipe.Ring // dest shard index -> ring this shard produces into
	inbound  map[uint16]*pipe.Ring // src shard index  -> ring this shard consumes from
	external []*pipe.Ring          // non-shard producers feeding this shard (e.g. internal/bridge.NatsBridge)

	reactor  *reactor.Reactor
	doorbell *pipe.Doorbell

	stopRequested atomic.Bool
	errFlag       atomic.Bool
	tickCount     atomic.Uint64
}

func newShard(index uint16, m *Main, cfg ShardConfig, logger zerolog.Logger, met *metrics.Metrics) (*Shard, error) {
	s := &Shard{
		index:    index,
		main:     m,
		cfg:      cfg,
		logger:   corelog.Component(logger, "shard."+strconv.Itoa(int(index))),
		metrics:  met,
		actors:   []Actor{nil}, // slot 0 reserved (service_id==0 is broadcast)
		inboxes:  []*pipe.Local{nil},
		freeNext: []uint16{0},
		outbound: make(map[uint16]*pipe.Ring),
		inbound:  make(map[uint16]*pipe.Ring),
	}

	r, err := reactor.New(reactor.Config{Granularity: cfg.ReactorGranularity})
	if err != nil {
		s.errFlag.Store(true)
		return s, err
	}
	s.reactor = r

	if db, err := pipe.NewDoorbell(); err == nil {
		s.doorbell = db
		s.reactor.Watch(db.FD(), reactor.Readable, func(reactor.EventSet) {
			db.Drain()
		})
	}
	return s, nil
}

// Index returns this shard's index within its Main.
func (s *Shard) Index() uint16 { return s.index }

// ShardOf returns the Shard that owns actor a. I/O-aware actors defined
// outside package core (core/session.Session, in particular) need this to
// reach Reactor() from their own OnInit, since kernelState.shard is
// otherwise unexported.
func ShardOf(a Actor) *Shard { return a.kernel().shard }

// Reactor exposes the shard's I/O/timer multiplexer to I/O-aware actors
// (sessions, acceptors) so they can register watchers and timers
// (spec.md §6 "To I/O-aware actors").
func (s *Shard) Reactor() *reactor.Reactor { return s.reactor }

// HasError reports whether this shard entered an unrecoverable error state
// (spec.md §7 "ReactorInitFailed").
func (s *Shard) HasError() bool { return s.errFlag.Load() }

// setOutbound wires the Ring this shard produces into for peerIndex.
func (s *Shard) setOutbound(peerIndex uint16, r *pipe.Ring) {
	s.outbound[peerIndex] = r
}

// setInbound wires the Ring this shard consumes from peerIndex.
func (s *Shard) setInbound(peerIndex uint16, r *pipe.Ring) {
	s.inbound[peerIndex] = r
}

// Doorbell exposes this shard's wakeup eventfd so an external producer
// (internal/bridge.NatsBridge, in particular) can call SetDoorbell on its
// own Ring and wake this shard's reactor promptly on delivery, the same
// way a peer shard's outbound Ring does (spec.md §6 "everything is an
// event": non-socket sources share the reactor's wakeup path).
func (s *Shard) Doorbell() *pipe.Doorbell { return s.doorbell }

// AttachExternal registers a Ring fed by a producer outside the shard
// mesh. The shard drains it every tick exactly like a peer shard's
// inbound pipe. Must be called before Run starts, from any goroutine.
func (s *Shard) AttachExternal(r *pipe.Ring) {
	s.external = append(s.external, r)
}

// maxActorSlots bounds a shard to 65536 service_id slots (0 reserved for
// broadcast), matching ActorId's 16-bit service_id field (id.go).
const maxActorSlots = 1 << 16

// spawn constructs and attaches actor a to this shard, assigning it an
// ActorId and calling OnInit exactly once, per spec.md §4.7/§4.9. It must
// run on the owning shard's own goroutine (synchronous pre-start
// construction, or via a "construct" event once the shard is ticking).
//
// Slot assignment prefers a reaped slot off the free list over growing
// actors/inboxes, so a long-running server that continuously opens and
// closes sessions (spec.md E3/E6) doesn't grow its slot table without
// bound and can never wrap a 16-bit service_id back to a value already in
// use (which would alias a live actor or BroadcastId).
func (s *Shard) spawn(a Actor) (ActorId, error) {
	var serviceID uint16
	if s.nextFree != 0 {
		serviceID = s.nextFree
		s.nextFree = s.freeNext[serviceID]
	} else {
		if len(s.actors) >= maxActorSlots {
			return NullId, ErrShardFull
		}
		serviceID = uint16(len(s.actors))
		s.actors = append(s.actors, nil)
		s.inboxes = append(s.inboxes, nil)
		s.freeNext = append(s.freeNext, 0)
	}
	id := newActorId(serviceID, s.index)

	k := a.kernel()
	k.id = id
	k.shard = s
	k.aliveVal.Store(true)
	if cb, ok := a.(ICallback); ok {
		k.callback = cb
	}

	s.actors[serviceID] = a
	s.inboxes[serviceID] = pipe.NewLocal(16)

	if !a.OnInit() {
		s.metrics.ActorInitFailures.Inc()
		s.logger.Warn().Stringer("actor", id).Msg("OnInit returned false, actor not attached")
		s.actors[serviceID] = nil
		s.inboxes[serviceID] = nil
		s.freeNext[serviceID] = s.nextFree
		s.nextFree = serviceID
		return NullId, ErrActorInitFailed
	}
	return id, nil
}

// Spawn attaches actor a to this shard at runtime rather than before
// Start, e.g. an acceptor actor creating one Session per accepted
// connection from inside its own reactor callback (spec.md §4.6: "Server
// accepts new connections, creates Session instances"). Callers must
// already be running on this shard's own goroutine — reactor callbacks and
// dispatch thunks always are.
func (s *Shard) Spawn(a Actor) (ActorId, error) {
	return s.spawn(a)
}

// route implements spec.md §4.7's routing rule: same-shard destinations go
// straight to the destination actor's local inbox; cross-shard
// destinations go to the outbound Ring for that shard. Broadcast
// destinations fan out to every alive local actor, or are forwarded intact
// to the target shard's own broadcast fan-out.
func (s *Shard) route(env *Envelope) {
	destShard := env.Dest.ShardIndex()
	if env.Dest.IsBroadcast() {
		if destShard == s.index {
			s.broadcastLocal(env)
		} else {
			s.sendOutbound(destShard, env)
		}
		return
	}
	if destShard == s.index {
		s.appendLocal(env)
		return
	}
	s.sendOutbound(destShard, env)
}

func (s *Shard) appendLocal(env *Envelope) {
	sid := env.Dest.ServiceID()
	if int(sid) >= len(s.inboxes) || s.inboxes[sid] == nil {
		s.metrics.EventsDropped.WithLabelValues("unknown_actor").Inc()
		return
	}
	s.inboxes[sid].Push(env)
}

func (s *Shard) broadcastLocal(env *Envelope) {
	for sid := 1; sid < len(s.actors); sid++ {
		a := s.actors[sid]
		if a == nil || !a.kernel().alive() {
			continue
		}
		cp := &Envelope{
			TypeID:  env.TypeID,
			Flags:   env.Flags,
			Dest:    newActorId(uint16(sid), s.index),
			Source:  env.Source,
			Payload: env.Payload,
		}
		s.inboxes[sid].Push(cp)
	}
}

func (s *Shard) sendOutbound(destShard uint16, env *Envelope) {
	ring, ok := s.outbound[destShard]
	if !ok {
		s.logger.Error().Uint16("dest_shard", destShard).Msg("no pipe wired to destination shard")
		s.metrics.EventsDropped.WithLabelValues("no_route").Inc()
		return
	}
	err := ring.Send(env, s.cfg.PipeSendTimeout, s.cfg.TickPeriod*8)
	if err != nil {
		s.metrics.PipeBackpressure.Inc()
		if env.Source.ShardIndex() == s.index && !env.Source.IsNull() {
			s.appendLocal(&Envelope{
				TypeID:  TypeIDOf[PipeFullError](),
				Flags:   FlagAlive,
				Dest:    env.Source,
				Source:  env.Source,
				Payload: &PipeFullError{Dest: env.Dest, TypeID: env.TypeID},
			})
		}
	}
}

// tick runs one iteration of the six-step loop of spec.md §4.8.
func (s *Shard) tick(deadline time.Time) {
	// 1. Reactor: fd-readiness and timer callbacks run inline (sessions
	// do their socket I/O here); they may append events to local inboxes.
	if err := s.reactor.RunOnce(deadline); err != nil {
		corelog.Error(s.logger, err, "reactor run_once failed", nil)
	}

	// 2. Drain inbound cross-shard pipes, round robin across peers.
	for _, ring := range s.inbound {
		ring.Drain(s.cfg.DrainBatchEvents, func(e pipe.Envelope) {
			if env, ok := e.(*Envelope); ok {
				s.appendLocal(env)
			}
		})
	}
	// 2b. Drain external producers (NatsBridge and similar), same contract.
	for _, ring := range s.external {
		ring.Drain(s.cfg.DrainBatchEvents, func(e pipe.Envelope) {
			if env, ok := e.(*Envelope); ok {
				s.appendLocal(env)
			}
		})
	}

	// 3. Periodic callbacks, at most once per tick (spec.md invariant 5).
	for sid := 1; sid < len(s.actors); sid++ {
		a := s.actors[sid]
		if a == nil || !a.kernel().alive() {
			continue
		}
		if cb := a.kernel().callback; cb != nil {
			s.invokeSafely(sid, func() { cb.OnTick() })
		}
	}

	// 4. Walk local inboxes round robin, dispatching each event.
	for sid := 1; sid < len(s.inboxes); sid++ {
		inbox := s.inboxes[sid]
		if inbox == nil {
			continue
		}
		inbox.DrainAll(func(e pipe.Envelope) {
			if env, ok := e.(*Envelope); ok {
				s.dispatchOne(sid, env)
			}
		})
	}

	// 5. Outbound flush: Push/Broadcast already commit directly into the
	// destination Ring via sendOutbound, so there is no separate buffered
	// flush step here — see DESIGN.md for why batching was not needed.

	// 6. Reap actors killed during this tick's dispatch.
	s.reap()

	s.tickCount.Add(1)
	s.metrics.TicksRun.WithLabelValues(strconv.Itoa(int(s.index))).Inc()
}

func (s *Shard) dispatchOne(sid int, env *Envelope) {
	a := s.actors[sid]
	if a == nil || !a.kernel().alive() {
		// spec.md invariant 4: dropped silently when not alive.
		s.metrics.EventsDropped.WithLabelValues("actor_not_alive").Inc()
		return
	}
	thunk := a.kernel().table.get(env.TypeID)
	if thunk == nil {
		// spec.md §4.1: "senders must not assume a handler exists".
		s.metrics.EventsDropped.WithLabelValues("no_handler").Inc()
		return
	}
	s.invokeSafely(sid, func() { thunk(env) })
	s.metrics.EventsDispatched.WithLabelValues(strconv.Itoa(int(s.index))).Inc()
}

// invokeSafely runs fn, recovering a panic the way spec.md §7/§9 requires:
// "the shard catches at the dispatch boundary, logs, marks the actor
// killed, and continues" rather than letting one handler's panic take down
// the whole shard goroutine.
func (s *Shard) invokeSafely(sid int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a := s.actors[sid]
			corelog.ErrorWithStack(s.logger, panicError{r}, "actor handler panicked", map[string]any{
				"actor": a.ID().String(),
			})
			a.kernel().aliveVal.Store(false)
		}
	}()
	fn()
}

type panicError struct{ v any }

func (p panicError) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-error panic value"
}

func (s *Shard) reap() {
	for sid := 1; sid < len(s.actors); sid++ {
		a := s.actors[sid]
		if a != nil && !a.kernel().alive() {
			s.actors[sid] = nil
			s.inboxes[sid] = nil
			id := uint16(sid)
			s.freeNext[id] = s.nextFree
			s.nextFree = id
			s.metrics.ActorsKilled.Inc()
		}
	}
}

// Run is the pinned-thread tick loop, spec.md §4.8. It returns once Stop
// has been requested and the shard has drained one final tick.
func (s *Shard) Run(ready *sync.WaitGroup) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.logger.Info().Msg("shard starting")
	ready.Done()

	for !s.stopRequested.Load() {
		s.tick(time.Now().Add(s.cfg.TickPeriod))
	}
	// One final drain so in-flight events delivered just before Stop are
	// not silently lost (spec.md E6: graceful shutdown).
	s.tick(time.Now())
	s.reactor.Close()
	if s.doorbell != nil {
		s.doorbell.Close()
	}
	s.logger.Info().Msg("shard stopped")
}

func (s *Shard) requestStop() { s.stopRequested.Store(true) }
