// Package reactor implements the per-shard I/O and timer multiplexer of
// spec.md §4.3: file-descriptor watchers, a hashed timer wheel, and a
// next-tick deferred-callback queue, all serviced by a single call,
// RunOnce, from the shard's own goroutine. It knows nothing about actors or
// events — callers supply plain callbacks, which RunOnce invokes
// synchronously on the shard goroutine. core/session's callback does its
// reads, framing and writes right there; no readiness event is pushed onto
// an inbox.
//
// The FD multiplexer is grounded on go-server/pkg/websocket/netpoll.go's
// hand-rolled EpollServer (same teacher repository, sibling variant): that
// code built one epoll instance to demultiplex listener readiness for a
// single WebSocket acceptor. Reactor generalizes the same epoll_create1 /
// epoll_ctl / epoll_wait sequence into a general per-shard multiplexer
// serving arbitrary watched descriptors, not just listeners.
package reactor

import (
	"errors"
	"time"
)

// EventSet is a bitmask of readiness conditions a watcher can ask for.
type EventSet uint8

const (
	Readable EventSet = 1 << iota
	Writable
	ErrorEvent
)

// WatcherID identifies a registered file-descriptor watcher for later
// cancellation.
type WatcherID uint64

// TimerID identifies a registered timer for later cancellation.
type TimerID uint64

// ErrReactorInit is returned by New when the platform cannot provide a
// kernel readiness multiplexer (spec.md §7 "ReactorInitFailed").
var ErrReactorInit = errors.New("reactor: failed to initialize kernel poller")

// Reactor is single-threaded: every method must be called from the owning
// shard's goroutine only.
type Reactor struct {
	poller      poller
	wheel       *timerWheel
	nextTick    []func()
	granularity time.Duration
}

// Config controls timer-wheel granularity and the kernel poller's expected
// descriptor-set size.
type Config struct {
	// Granularity is the timer wheel's tick size; spec.md §4.3 default is
	// 10ms.
	Granularity time.Duration
	// MaxEvents bounds how many ready events RunOnce retrieves from the
	// kernel in a single call.
	MaxEvents int
}

// DefaultConfig matches spec.md §4.3's defaults.
func DefaultConfig() Config {
	return Config{Granularity: 10 * time.Millisecond, MaxEvents: 256}
}

// New creates a reactor for the calling shard. It must be called once per
// shard, from the goroutine that will own it.
func New(cfg Config) (*Reactor, error) {
	if cfg.Granularity <= 0 {
		cfg.Granularity = 10 * time.Millisecond
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 256
	}
	p, err := newPoller(cfg.MaxEvents)
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:      p,
		wheel:       newTimerWheel(cfg.Granularity),
		granularity: cfg.Granularity,
	}, nil
}

// Watch registers fd for the given readiness conditions; cb is invoked with
// the observed EventSet whenever the kernel reports readiness, from
// RunOnce's own goroutine.
func (r *Reactor) Watch(fd int, events EventSet, cb func(EventSet)) (WatcherID, error) {
	return r.poller.add(fd, events, cb)
}

// Rearm changes the watched event set for an existing watcher (e.g. after
// arming writable once the output buffer has data, per spec.md §4.6).
func (r *Reactor) Rearm(id WatcherID, events EventSet) error {
	return r.poller.rearm(id, events)
}

// Cancel removes a watcher. Safe to call from the owning shard at any time;
// any already-enqueued events for it are discarded by the caller observing
// the owning actor's alive bit (spec.md §4.3 "Cancellation").
func (r *Reactor) Cancel(id WatcherID) {
	r.poller.remove(id)
}

// AddTimer schedules cb to fire once after delay.
func (r *Reactor) AddTimer(delay time.Duration, cb func()) TimerID {
	return r.wheel.schedule(delay, 0, cb)
}

// AddPeriodicTimer schedules cb to fire every period, starting after the
// first period elapses.
func (r *Reactor) AddPeriodicTimer(period time.Duration, cb func()) TimerID {
	return r.wheel.schedule(period, period, cb)
}

// CancelTimer cancels a pending (or subsequent, for periodic) timer firing.
func (r *Reactor) CancelTimer(id TimerID) {
	r.wheel.cancel(id)
}

// Callback enqueues fn for execution relative to the reactor's own clock:
// delay==0 places it on the next-tick queue, guaranteeing it runs before
// RunOnce blocks on kernel readiness again (spec.md §4.3 "Deferred
// callbacks"); delay>0 is equivalent to AddTimer.
func (r *Reactor) Callback(fn func(), delay time.Duration) {
	if delay <= 0 {
		r.nextTick = append(r.nextTick, fn)
		return
	}
	r.wheel.schedule(delay, 0, fn)
}

// NextDeadline returns the instant the next pending timer is due, and
// whether one exists at all.
func (r *Reactor) NextDeadline() (time.Time, bool) {
	return r.wheel.nextDeadline()
}

// RunOnce services one iteration of reactor work: it blocks (bounded by the
// earlier of deadline and the next timer) until kernel readiness or that
// deadline, then fires ready watchers, expired timers and the next-tick
// queue in a single sweep (spec.md §4.3 "run_once(deadline)").
func (r *Reactor) RunOnce(deadline time.Time) error {
	now := time.Now()
	wait := deadline.Sub(now)
	if nd, ok := r.wheel.nextDeadline(); ok {
		if d := nd.Sub(now); d < wait {
			wait = d
		}
	}
	if len(r.nextTick) > 0 {
		wait = 0
	}
	if wait < 0 {
		wait = 0
	}

	if err := r.poller.wait(wait); err != nil {
		return err
	}

	r.wheel.advance(time.Now())

	pending := r.nextTick
	r.nextTick = nil
	for _, fn := range pending {
		fn()
	}
	return nil
}

// Close releases kernel resources held by the reactor.
func (r *Reactor) Close() error {
	return r.poller.close()
}

type poller interface {
	add(fd int, events EventSet, cb func(EventSet)) (WatcherID, error)
	rearm(id WatcherID, events EventSet) error
	remove(id WatcherID)
	wait(timeout time.Duration) error
	close() error
}
