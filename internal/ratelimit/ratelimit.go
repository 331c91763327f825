// Package ratelimit provides a per-session inbound-message governor built
// on golang.org/x/time/rate, adapted from the teacher's ResourceGuard
// (resource_guard.go): that type held one natsLimiter and one
// broadcastLimiter per process, each a rate.Limiter with a 2x-rate burst.
// Session needs the same governor per connection rather than per process,
// so Limiter here is a small per-session wrapper instead of a
// process-global guard.
package ratelimit

import "golang.org/x/time/rate"

// Limiter governs how many inbound messages a single session may submit
// per second, with burst capacity for traffic spikes — the same 2x-rate
// burst sizing the teacher's NewResourceGuard uses for its NATS and
// broadcast limiters.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing ratePerSec messages/second sustained,
// with a burst of 2x that rate. ratePerSec <= 0 disables limiting.
func New(ratePerSec int) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2)}
}

// Allow reports whether one more inbound message may be admitted right
// now, consuming a token if so. Session calls this once per framed
// message before dispatching it, dropping (and counting, via metrics) any
// message Allow refuses.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// SetRate adjusts the sustained rate and burst at runtime, e.g. in
// response to a config reload.
func (l *Limiter) SetRate(ratePerSec int) {
	if ratePerSec <= 0 {
		l.rl.SetLimit(rate.Inf)
		l.rl.SetBurst(0)
		return
	}
	l.rl.SetLimit(rate.Limit(ratePerSec))
	l.rl.SetBurst(ratePerSec * 2)
}
