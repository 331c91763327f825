// Command pingpong is the runnable form of the ping-pong latency scenario:
// two actors on two different shards volley Ping/Pong events n times
// and report elapsed time and total events exchanged, the way the
// teacher's main.go boots one runnable mode end-to-end rather than leaving
// the wiring as untested library code.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adred-codev/qbgo/core"
	"github.com/adred-codev/qbgo/internal/config"
	"github.com/adred-codev/qbgo/internal/corelog"
	"github.com/adred-codev/qbgo/internal/metrics"
)

// Ping is volleyed from the initiating actor, counting n down to 1.
type Ping struct{ N int }

// Pong is the reply, carrying the same counter back.
type Pong struct{ N int }

// pongActor (spec.md E1's "B") replies to every Ping with a Pong carrying
// the same n, never tracking state of its own — the rally's bookkeeping
// lives entirely on the initiating side.
type pongActor struct {
	core.ActorBase
}

func (a *pongActor) OnInit() bool {
	core.RegisterEvent(a, a.onPing)
	return true
}

func (a *pongActor) onPing(env *core.Envelope, evt *Ping) {
	core.Reply(a, env, Pong{N: evt.N})
}

// pingActor (spec.md E1's "A") starts the rally in OnInit and counts down,
// recording elapsed time and total exchanged events when the Pong for n==1
// arrives, i.e. after n round trips.
type pingActor struct {
	core.ActorBase
	target core.ActorId
	n      int
	sent   int
	recv   int
	start  time.Time
	done   chan result
}

type result struct {
	elapsed    time.Duration
	sent, recv int
}

func (a *pingActor) OnInit() bool {
	core.RegisterEvent(a, a.onPong)
	a.start = time.Now()
	core.Push(a, a.target, Ping{N: a.n})
	a.sent++
	return true
}

func (a *pingActor) onPong(env *core.Envelope, evt *Pong) {
	a.recv++
	if evt.N <= 1 {
		a.done <- result{elapsed: time.Since(a.start), sent: a.sent, recv: a.recv}
		close(a.done)
		a.Kill()
		return
	}
	core.Push(a, a.target, Ping{N: evt.N - 1})
	a.sent++
}

func main() {
	n := flag.Int("n", 1_000_000, "number of ping-pong round trips")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pingpong: config:", err)
		os.Exit(1)
	}

	logger := corelog.New(corelog.Config{
		Level:   corelog.Level(cfg.Logging.Level),
		Format:  corelog.Format(cfg.Logging.Format),
		Service: "pingpong",
	})
	met := metrics.New(prometheus.NewRegistry())

	m, err := core.New(core.Config{
		ShardCount:         2,
		TickPeriod:         cfg.Runtime.TickPeriod,
		ReactorGranularity: cfg.Runtime.ReactorGranularity,
		PipeInitialSlots:   cfg.Runtime.PipeInitialSlots,
		PipeMaxSlots:       cfg.Runtime.PipeMaxSlots,
		PipeSendTimeout:    cfg.Runtime.PipeSendTimeout,
		DrainBatchEvents:   cfg.Runtime.DrainBatchEvents,
	}, logger, met)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pingpong: runtime init:", err)
		os.Exit(1)
	}

	pongID, err := m.Core(1).AddActor(&pongActor{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "pingpong: spawn pong actor:", err)
		os.Exit(1)
	}

	done := make(chan result, 1)
	ping := &pingActor{target: pongID, n: *n, done: done}
	if _, err := m.Core(0).AddActor(ping); err != nil {
		fmt.Fprintln(os.Stderr, "pingpong: spawn ping actor:", err)
		os.Exit(1)
	}

	if err := m.Start(false); err != nil {
		fmt.Fprintln(os.Stderr, "pingpong: start:", err)
		os.Exit(1)
	}

	res := <-done
	m.Stop()
	m.Join()

	fmt.Printf("rounds=%d elapsed=%s sent=%d recv=%d total_events=%d\n",
		*n, res.elapsed, res.sent, res.recv, res.sent+res.recv)
}
