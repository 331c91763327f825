// Package session implements spec.md §4.6 (C6): an I/O-aware actor that
// binds a transport.Conn, a protocol.Protocol and growable buffers into a
// single reactor-driven unit, generalized from the teacher's per-WebSocket
// client type (connection.go's Client: conn + send buffer + sequence
// tracking + slow-client strikes) into a transport/protocol-agnostic actor
// attached to a single shard rather than a dedicated goroutine per client.
package session

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/qbgo/core"
	"github.com/adred-codev/qbgo/core/protocol"
	"github.com/adred-codev/qbgo/core/reactor"
	"github.com/adred-codev/qbgo/core/transport"
	"github.com/adred-codev/qbgo/internal/bufpool"
	"github.com/adred-codev/qbgo/internal/corelog"
	"github.com/adred-codev/qbgo/internal/metrics"
	"github.com/adred-codev/qbgo/internal/ratelimit"
)

// maxConsecutiveFullWrites is the teacher's "3 strikes" slow-client rule
// (connection.go: sendAttempts, disconnected after 3 consecutive failed
// sends), generalized here from a WebSocket broadcast fanout to any
// session's output path.
const maxConsecutiveFullWrites = 3

// ErrSlowSession is the disconnect reason recorded when a session fails to
// drain its output buffer maxConsecutiveFullWrites times in a row.
var ErrSlowSession = errors.New("session: too many consecutive full writes")

// ErrIdleTimeout is the disconnect reason recorded when a session's
// inactivity timer fires.
var ErrIdleTimeout = errors.New("session: idle timeout")

// Disconnected is pushed to a Session's Owner exactly once, when the
// session terminates for any reason, per spec.md §4.6 ("the session then
// terminates itself and notifies its owning io_handler actor") and the
// testable property that "the owning io_handler receives exactly one
// disconnection notification" (spec.md §8). Err is nil for an
// application-initiated Close.
type Disconnected struct {
	Session core.ActorId
	Err     error
}

// Handler processes one fully-framed inbound message. Session invokes it
// from its owning shard's goroutine only, after the rate limiter (if any)
// has admitted the message.
type Handler func(s *Session, frame []byte)

// Session is the actor type of spec.md §4.6. Application code constructs
// one per accepted/dialed connection and spawns it on a shard via
// Main.Core(i).AddActor, exactly like any other actor.
type Session struct {
	core.ActorBase

	conn    *transport.Conn
	proto   protocol.Protocol
	onFrame Handler
	limiter *ratelimit.Limiter
	pool    *bufpool.Pool
	owner   core.ActorId

	readBuf       *[]byte
	pendingWrites [][]byte

	watcher    reactor.WatcherID
	timeoutDur time.Duration
	timerID    reactor.TimerID
	hasTimer   bool

	consecutiveFullWrites int
	closed                bool

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Config groups the construction-time dependencies of a Session, mirroring
// the teacher's pattern of assembling a Client from pooled resources
// (ConnectionPool.Get) rather than allocating each field inline.
type Config struct {
	Conn        *transport.Conn
	Protocol    protocol.Protocol
	OnFrame     Handler
	Limiter     *ratelimit.Limiter // nil disables rate limiting
	Pool        *bufpool.Pool
	IdleTimeout time.Duration // 0 disables the inactivity timer
	// Owner, if non-zero, receives exactly one Disconnected event when
	// this session terminates (spec.md §4.6's "notifies its owning
	// io_handler actor") — typically the acceptor or dialer actor that
	// spawned this session. The zero value (core.ActorId(0), which packs
	// to core.BroadcastId(0)) is treated as "no owner" rather than a real
	// destination: broadcasting a single session's disconnection to every
	// actor on shard 0 is never the intended use of this field.
	Owner   core.ActorId
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// New constructs a Session ready to be spawned on a shard. It does nothing
// with the reactor yet; wiring happens in OnInit, once the owning shard has
// attached the actor (core.ShardOf only resolves after that point).
func New(cfg Config) *Session {
	return &Session{
		conn:       cfg.Conn,
		proto:      cfg.Protocol,
		onFrame:    cfg.OnFrame,
		limiter:    cfg.Limiter,
		pool:       cfg.Pool,
		owner:      cfg.Owner,
		timeoutDur: cfg.IdleTimeout,
		logger:     corelog.Component(cfg.Logger, "session"),
		metrics:    cfg.Metrics,
	}
}

// OnInit registers the connection's descriptor with the owning shard's
// reactor and arms the inactivity timer, per spec.md §4.6 "Start".
func (s *Session) OnInit() bool {
	r := core.ShardOf(s).Reactor()

	watcher, err := r.Watch(s.conn.Fd(), reactor.Readable, s.onReady)
	if err != nil {
		corelog.Error(s.logger, err, "session: failed to watch connection", nil)
		return false
	}
	s.watcher = watcher

	if s.timeoutDur > 0 {
		s.timerID = r.AddTimer(s.timeoutDur, s.onTimeout)
		s.hasTimer = true
	}

	s.metrics.SessionsAccepted.Inc()
	return true
}

func (s *Session) onReady(ev reactor.EventSet) {
	if ev&reactor.Readable != 0 {
		s.onReadable()
	}
	if !s.closed && ev&reactor.Writable != 0 {
		s.onWritable()
	}
}

// onReadable drains one read's worth of bytes, feeds them to the protocol,
// and dispatches every complete frame produced, honoring the rate limiter
// per message (spec.md §4.6 invariant: "reads never block the shard").
func (s *Session) onReadable() {
	if s.readBuf == nil {
		s.readBuf = s.pool.Get(16 * 1024)
	}
	buf := *s.readBuf

	n, err := s.conn.Read(buf)
	if err != nil {
		if errors.Is(err, transport.ErrWouldBlock) {
			return
		}
		s.onDisconnected(err)
		return
	}
	s.resetTimeout()

	frames, ferr := s.proto.Feed(buf[:n])
	if ferr != nil {
		corelog.Error(s.logger, ferr, "session: protocol framing error", nil)
		s.onDisconnected(ferr)
		return
	}

	if cr, ok := s.proto.(interface{ PendingControlReplies() [][]byte }); ok {
		for _, reply := range cr.PendingControlReplies() {
			_ = s.enqueueWrite(reply)
		}
	}

	for _, frame := range frames {
		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.EventsDropped.WithLabelValues("rate_limited").Inc()
			continue
		}
		s.onFrame(s, frame)
	}
}

// Send encodes payload through the session's protocol and queues it for
// write, the Go equivalent of spec.md's "session << message". Application
// code is responsible for its own wire marshaling (e.g. encoding/json)
// before calling Send; Protocol only frames already-serialized bytes.
func (s *Session) Send(payload []byte) error {
	if s.closed {
		return transport.ErrWouldBlock
	}
	wire, err := s.proto.Encode(payload)
	if err != nil {
		return err
	}
	return s.enqueueWrite(wire)
}

// enqueueWrite attempts an immediate write, following the teacher's
// optimistic-write-then-queue pattern (connection.go's send channel is
// only consulted once a direct write would block); anything unwritten is
// queued and the reactor is rearmed for Writable.
func (s *Session) enqueueWrite(data []byte) error {
	if len(s.pendingWrites) == 0 {
		n, err := s.conn.Write(data)
		switch {
		case err != nil && !errors.Is(err, transport.ErrWouldBlock):
			s.onDisconnected(err)
			return err
		case err == nil && n == len(data):
			s.consecutiveFullWrites = 0
			return nil
		case err == nil:
			data = data[n:]
		}

		s.consecutiveFullWrites++
		if s.consecutiveFullWrites >= maxConsecutiveFullWrites {
			s.onDisconnected(ErrSlowSession)
			return ErrSlowSession
		}
	}

	s.pendingWrites = append(s.pendingWrites, data)
	core.ShardOf(s).Reactor().Rearm(s.watcher, reactor.Readable|reactor.Writable)
	return nil
}

func (s *Session) onWritable() {
	for len(s.pendingWrites) > 0 {
		data := s.pendingWrites[0]
		n, err := s.conn.Write(data)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				return
			}
			s.onDisconnected(err)
			return
		}
		if n < len(data) {
			s.pendingWrites[0] = data[n:]
			return
		}
		s.pendingWrites = s.pendingWrites[1:]
		s.consecutiveFullWrites = 0
	}
	core.ShardOf(s).Reactor().Rearm(s.watcher, reactor.Readable)
}

func (s *Session) onTimeout() {
	s.onDisconnected(ErrIdleTimeout)
}

// resetTimeout re-arms the inactivity timer after any inbound traffic.
func (s *Session) resetTimeout() {
	if !s.hasTimer {
		return
	}
	r := core.ShardOf(s).Reactor()
	r.CancelTimer(s.timerID)
	s.timerID = r.AddTimer(s.timeoutDur, s.onTimeout)
}

// UpdateTimeout changes the inactivity timeout and re-arms it immediately,
// per spec.md §4.6 "UpdateTimeout".
func (s *Session) UpdateTimeout(d time.Duration) {
	if s.hasTimer {
		core.ShardOf(s).Reactor().CancelTimer(s.timerID)
	}
	s.timeoutDur = d
	s.hasTimer = d > 0
	if s.hasTimer {
		s.timerID = core.ShardOf(s).Reactor().AddTimer(d, s.onTimeout)
	}
}

// Close tears the session down from application code, e.g. in response to
// an actor-level event unrelated to I/O.
func (s *Session) Close() { s.onDisconnected(nil) }

func (s *Session) onDisconnected(err error) {
	if s.closed {
		return
	}
	s.closed = true

	shard := core.ShardOf(s)
	shard.Reactor().Cancel(s.watcher)
	if s.hasTimer {
		shard.Reactor().CancelTimer(s.timerID)
	}
	s.conn.Close()
	if s.readBuf != nil {
		s.pool.Put(s.readBuf)
		s.readBuf = nil
	}

	s.metrics.SessionsClosed.WithLabelValues(disconnectReason(err)).Inc()
	if err != nil && !transport.ErrClosedByPeer(err) {
		corelog.Error(s.logger, err, "session disconnected", nil)
	}

	if s.owner != 0 {
		core.Push(s, s.owner, Disconnected{Session: s.ID(), Err: err})
	}
	s.Kill()
}

func disconnectReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrSlowSession):
		return "slow_client"
	case errors.Is(err, ErrIdleTimeout):
		return "idle_timeout"
	case transport.ErrClosedByPeer(err):
		return "peer_closed"
	default:
		return "io_error"
	}
}
