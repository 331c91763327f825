package bridge

import (
	"time"

	"testing"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/adred-codev/qbgo/core"
	"github.com/adred-codev/qbgo/internal/metrics"
)

func newTestMain(t *testing.T) *core.Main {
	t.Helper()
	cfg := core.Config{
		ShardCount:         1,
		TickPeriod:         time.Millisecond,
		ReactorGranularity: time.Millisecond,
		PipeInitialSlots:   16,
		PipeMaxSlots:       1024,
		PipeSendTimeout:    50 * time.Millisecond,
		DrainBatchEvents:   64,
	}
	m, err := core.New(cfg, zerolog.Nop(), metrics.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	return m
}

type tickEvent struct{ Payload string }

type recorderActor struct {
	core.ActorBase
	received chan string
}

func (a *recorderActor) OnInit() bool {
	core.RegisterEvent[tickEvent](a, func(env *core.Envelope, evt *tickEvent) {
		a.received <- evt.Payload
	})
	return true
}

func decodeTick(subject string, data []byte) (core.TypeID, any, error) {
	if subject == "drop.me" {
		return 0, nil, nil
	}
	return core.TypeIDOf[tickEvent](), &tickEvent{Payload: string(data)}, nil
}

// TestNatsBridgeDeliversDecodedMessageToTargetActor exercises handleMessage
// exactly as the NATS client's own delivery goroutine would call it, without
// requiring a live NATS server: nats.Msg is a plain struct and handleMessage
// only touches its Subject/Data fields.
func TestNatsBridgeDeliversDecodedMessageToTargetActor(t *testing.T) {
	m := newTestMain(t)
	target := &recorderActor{received: make(chan string, 1)}
	targetID, err := m.Core(0).AddActor(target)
	if err != nil {
		t.Fatalf("AddActor(target): %v", err)
	}

	b := New(Config{
		Subject: "events.tick",
		Target:  targetID,
		Shard:   m.Core(0).Shard(),
		Decode:  decodeTick,
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})

	if err := m.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		m.Stop()
		m.Join()
	}()

	b.handleMessage(&nats.Msg{Subject: "events.tick", Data: []byte("hello")})

	select {
	case got := <-target.received:
		if got != "hello" {
			t.Fatalf("received = %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged event to reach target actor")
	}
}

// TestNatsBridgeDropsMessageWhenDecodeReturnsNilPayload exercises the
// "unrecognized subject" drop path: Decode returning a nil payload must not
// enqueue anything onto the shard's external ring.
func TestNatsBridgeDropsMessageWhenDecodeReturnsNilPayload(t *testing.T) {
	m := newTestMain(t)
	target := &recorderActor{received: make(chan string, 1)}
	targetID, err := m.Core(0).AddActor(target)
	if err != nil {
		t.Fatalf("AddActor(target): %v", err)
	}

	b := New(Config{
		Subject: "drop.me",
		Target:  targetID,
		Shard:   m.Core(0).Shard(),
		Decode:  decodeTick,
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})

	if err := m.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		m.Stop()
		m.Join()
	}()

	b.handleMessage(&nats.Msg{Subject: "drop.me", Data: []byte("ignored")})

	select {
	case got := <-target.received:
		t.Fatalf("target unexpectedly received %q from a dropped message", got)
	case <-time.After(50 * time.Millisecond):
	}
}
