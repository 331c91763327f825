package session

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/adred-codev/qbgo/core"
	"github.com/adred-codev/qbgo/core/protocol"
	"github.com/adred-codev/qbgo/core/transport"
	"github.com/adred-codev/qbgo/internal/bufpool"
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

func acceptEventually(t *testing.T, l *transport.Listener) *transport.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := l.Accept()
		if err == nil {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Accept: timed out")
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSessionFeedsFramesToHandlerAndEchoesBack(t *testing.T) {
	l, err := transport.Listen("127.0.0.1:0", transport.DefaultListenerConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	client, err := transport.Dial(transport.TCP, "tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	serverConn := acceptEventually(t, l)

	m := newTestMain(t)

	received := make(chan []byte, 1)
	sess := New(Config{
		Conn:     serverConn,
		Protocol: protocol.NewLengthPrefixed(0),
		OnFrame: func(s *Session, frame []byte) {
			cp := append([]byte(nil), frame...)
			received <- cp
			if err := s.Send(cp); err != nil {
				t.Errorf("Send: %v", err)
			}
		},
		Pool:    bufpool.New(),
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	if _, err := m.Core(0).AddActor(sess); err != nil {
		t.Fatalf("AddActor(session): %v", err)
	}
	if err := m.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		m.Stop()
		m.Join()
	}()

	wire, _ := protocol.NewLengthPrefixed(0).Encode([]byte("ping"))
	if _, err := client.Write(wire); err != nil {
		t.Fatalf("client.Write: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "ping" {
			t.Fatalf("received = %q, want %q", got, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnFrame")
	}

	clientProto := protocol.NewLengthPrefixed(0)
	var echoed [][]byte
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 256)
	for time.Now().Before(deadline) && len(echoed) == 0 {
		n, err := client.Read(buf)
		if err != nil {
			if err == transport.ErrWouldBlock {
				time.Sleep(time.Millisecond)
				continue
			}
			t.Fatalf("client.Read: %v", err)
		}
		frames, ferr := clientProto.Feed(buf[:n])
		if ferr != nil {
			t.Fatalf("Feed: %v", ferr)
		}
		echoed = append(echoed, frames...)
	}
	if len(echoed) != 1 || string(echoed[0]) != "ping" {
		t.Fatalf("echoed = %v, want one frame \"ping\"", echoed)
	}
}

func TestSessionIdleTimeoutClosesConnection(t *testing.T) {
	l, err := transport.Listen("127.0.0.1:0", transport.DefaultListenerConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	client, err := transport.Dial(transport.TCP, "tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	serverConn := acceptEventually(t, l)

	m := newTestMain(t)
	sess := New(Config{
		Conn:        serverConn,
		Protocol:    protocol.NewLengthPrefixed(0),
		OnFrame:     func(*Session, []byte) {},
		Pool:        bufpool.New(),
		IdleTimeout: 5 * time.Millisecond,
		Logger:      zerolog.Nop(),
		Metrics:     metrics.New(prometheus.NewRegistry()),
	})
	if _, err := m.Core(0).AddActor(sess); err != nil {
		t.Fatalf("AddActor(session): %v", err)
	}
	if err := m.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		m.Stop()
		m.Join()
	}()

	waitFor(t, func() bool {
		buf := make([]byte, 1)
		_, err := client.Read(buf)
		return err != nil && err != transport.ErrWouldBlock
	}, "timed out waiting for idle-timeout disconnect to close the peer socket")

	buf := make([]byte, 1)
	_, err = client.Read(buf)
	if !transport.ErrClosedByPeer(err) && !errors.Is(err, transport.ErrWouldBlock) {
		t.Fatalf("Read err after idle timeout = %v, want ErrClosedByPeer", err)
	}
}

// ownerActor stands in for the "io_handler" of spec.md §4.6: it spawns a
// Session and expects to be notified exactly once when that session
// terminates.
type ownerActor struct {
	core.ActorBase
	notified chan Disconnected
}

func (o *ownerActor) OnInit() bool {
	core.RegisterEvent[Disconnected](o, func(env *core.Envelope, evt *Disconnected) {
		o.notified <- *evt
	})
	return true
}

func TestSessionNotifiesOwnerExactlyOnceOnDisconnect(t *testing.T) {
	l, err := transport.Listen("127.0.0.1:0", transport.DefaultListenerConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	client, err := transport.Dial(transport.TCP, "tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	serverConn := acceptEventually(t, l)

	m := newTestMain(t)

	owner := &ownerActor{notified: make(chan Disconnected, 4)}
	ownerID, err := m.Core(0).AddActor(owner)
	if err != nil {
		t.Fatalf("AddActor(owner): %v", err)
	}

	sess := New(Config{
		Conn:        serverConn,
		Protocol:    protocol.NewLengthPrefixed(0),
		OnFrame:     func(*Session, []byte) {},
		Pool:        bufpool.New(),
		Owner:       ownerID,
		IdleTimeout: 5 * time.Millisecond,
		Logger:      zerolog.Nop(),
		Metrics:     metrics.New(prometheus.NewRegistry()),
	})
	sessID, err := m.Core(0).AddActor(sess)
	if err != nil {
		t.Fatalf("AddActor(session): %v", err)
	}
	if err := m.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		m.Stop()
		m.Join()
	}()

	// The idle timeout fires on the shard's own goroutine (via the
	// reactor's timer wheel), so it drives onDisconnected without any
	// cross-goroutine call into the session from the test itself.
	select {
	case evt := <-owner.notified:
		if evt.Session != sessID {
			t.Fatalf("evt.Session = %v, want %v", evt.Session, sessID)
		}
		if !errors.Is(evt.Err, ErrIdleTimeout) {
			t.Fatalf("evt.Err = %v, want ErrIdleTimeout", evt.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Disconnected notification")
	}

	select {
	case extra := <-owner.notified:
		t.Fatalf("owner received a second Disconnected notification: %v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}
