// Package metrics exposes Prometheus instrumentation for the scheduler,
// adapted from the teacher's metrics.go (connectionsTotal/messagesSent/
// bytesSent-style package-level prometheus.Counter/Gauge/*Vec variables
// plus a promhttp.Handler endpoint), retargeted from WebSocket connection
// counters onto the quantities this runtime actually produces: events
// dispatched, pipe backpressure, reactor timer firings, session lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the runtime registers. A Metrics
// returned by New with a nil registry still works: each collector is
// created fresh and simply not exposed via HTTP.
type Metrics struct {
	EventsDispatched  *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	PipeBackpressure  prometheus.Counter
	PipeGrowths       prometheus.Counter
	TimersFired       prometheus.Counter
	TicksRun          *prometheus.CounterVec
	SessionsAccepted  prometheus.Counter
	SessionsClosed    *prometheus.CounterVec
	ActorsKilled      prometheus.Counter
	ActorInitFailures prometheus.Counter
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actor_events_dispatched_total",
			Help: "Total number of events dispatched to a registered handler.",
		}, []string{"shard"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actor_events_dropped_total",
			Help: "Total number of events dropped (no handler, or destination actor not alive).",
		}, []string{"reason"}),
		PipeBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_pipe_backpressure_total",
			Help: "Total number of times a cross-shard send observed a full pipe at its size ceiling.",
		}),
		PipeGrowths: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_pipe_growths_total",
			Help: "Total number of cross-shard pipe growth events.",
		}),
		TimersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_reactor_timers_fired_total",
			Help: "Total number of reactor timer callbacks fired.",
		}),
		TicksRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actor_shard_ticks_total",
			Help: "Total number of scheduling ticks run per shard.",
		}, []string{"shard"}),
		SessionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_sessions_accepted_total",
			Help: "Total number of transport sessions accepted or connected.",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actor_sessions_closed_total",
			Help: "Total number of sessions that terminated, by reason.",
		}, []string{"reason"}),
		ActorsKilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_killed_total",
			Help: "Total number of actors reaped after Kill().",
		}),
		ActorInitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_init_failures_total",
			Help: "Total number of OnInit() calls that returned false.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsDispatched, m.EventsDropped, m.PipeBackpressure, m.PipeGrowths,
			m.TimersFired, m.TicksRun, m.SessionsAccepted, m.SessionsClosed,
			m.ActorsKilled, m.ActorInitFailures,
		)
	}
	return m
}

// Handler returns the promhttp handler to mount at the metrics endpoint
// (teacher's metrics.go exposes this as /metrics via promhttp.Handler()).
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
