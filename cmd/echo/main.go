// Command echo is the runnable form of the TCP-echo-with-protocol
// scenario: a server actor on shard 0 accepts length-prefixed framed
// connections and echoes every frame back; a client actor on shard 1
// dials in, sends a batch of randomly sized framed messages, and verifies
// every echoed frame's checksum matches what it sent.
package main

import (
	"errors"
	"flag"
	"fmt"
	"hash/crc32"
	"math/rand"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/adred-codev/qbgo/core"
	"github.com/adred-codev/qbgo/core/protocol"
	"github.com/adred-codev/qbgo/core/reactor"
	"github.com/adred-codev/qbgo/core/session"
	"github.com/adred-codev/qbgo/core/transport"
	"github.com/adred-codev/qbgo/internal/bufpool"
	"github.com/adred-codev/qbgo/internal/config"
	"github.com/adred-codev/qbgo/internal/corelog"
	"github.com/adred-codev/qbgo/internal/metrics"
)

const maxFrameBytes = 1 << 20

// acceptorActor is the shard-0 "io_handler" of spec.md E3: it owns the
// listening socket and turns every accepted connection into a Session
// whose handler echoes frames back unmodified.
type acceptorActor struct {
	core.ActorBase

	listener *transport.Listener
	pool     *bufpool.Pool
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func (a *acceptorActor) OnInit() bool {
	_, err := core.ShardOf(a).Reactor().Watch(a.listener.Fd(), reactor.Readable, a.onAcceptable)
	if err != nil {
		corelog.Error(a.logger, err, "echo: failed to watch listener", nil)
		return false
	}
	core.RegisterEvent[session.Disconnected](a, a.onSessionDisconnected)
	return true
}

func (a *acceptorActor) onSessionDisconnected(env *core.Envelope, evt *session.Disconnected) {
	a.logger.Debug().Stringer("session", evt.Session).Msg("echo: session disconnected")
}

func (a *acceptorActor) onAcceptable(reactor.EventSet) {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if !errors.Is(err, transport.ErrWouldBlock) {
				corelog.Error(a.logger, err, "echo: accept failed", nil)
			}
			return
		}

		sess := session.New(session.Config{
			Conn:     conn,
			Protocol: protocol.NewLengthPrefixed(maxFrameBytes),
			OnFrame:  echoFrame,
			Pool:     a.pool,
			Owner:    a.ID(),
			Logger:   a.logger,
			Metrics:  a.metrics,
		})
		if _, err := core.ShardOf(a).Spawn(sess); err != nil {
			corelog.Error(a.logger, err, "echo: failed to spawn session for accepted connection", nil)
		}
	}
}

func echoFrame(s *session.Session, frame []byte) {
	echoed := make([]byte, len(frame))
	copy(echoed, frame)
	_ = s.Send(echoed)
}

// clientActor is spec.md E3's client: it dials the server, sends a batch
// of randomly sized framed messages up front, and verifies each echoed
// frame's checksum against what it sent, in order.
type clientActor struct {
	core.ActorBase

	serverAddr string
	total      int
	pool       *bufpool.Pool
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	sess      *session.Session
	expected  []uint32
	recvCount int
	done      chan error
	reported  bool
}

func (c *clientActor) OnInit() bool {
	core.RegisterEvent[session.Disconnected](c, c.onSessionDisconnected)

	conn, err := transport.Dial(transport.TCP, "tcp", c.serverAddr)
	if err != nil {
		c.finish(fmt.Errorf("echo: dial server: %w", err))
		return false
	}

	c.sess = session.New(session.Config{
		Conn:     conn,
		Protocol: protocol.NewLengthPrefixed(maxFrameBytes),
		OnFrame:  c.onEcho,
		Pool:     c.pool,
		Owner:    c.ID(),
		Logger:   c.logger,
		Metrics:  c.metrics,
	})
	if _, err := core.ShardOf(c).Spawn(c.sess); err != nil {
		c.finish(fmt.Errorf("echo: spawn client session: %w", err))
		return false
	}

	rng := rand.New(rand.NewSource(42))
	c.expected = make([]uint32, c.total)
	for i := 0; i < c.total; i++ {
		size := 1 + rng.Intn(65535)
		buf := make([]byte, size)
		rng.Read(buf)
		c.expected[i] = crc32.ChecksumIEEE(buf)
		if err := c.sess.Send(buf); err != nil {
			c.finish(fmt.Errorf("echo: send message %d: %w", i, err))
			return false
		}
	}
	return true
}

func (c *clientActor) onEcho(s *session.Session, frame []byte) {
	if c.recvCount >= c.total {
		return
	}
	got := crc32.ChecksumIEEE(frame)
	if got != c.expected[c.recvCount] {
		c.finish(fmt.Errorf("echo: checksum mismatch at message %d", c.recvCount))
		return
	}
	c.recvCount++
	if c.recvCount == c.total {
		s.Close()
		c.finish(nil)
	}
}

func (c *clientActor) onSessionDisconnected(env *core.Envelope, evt *session.Disconnected) {
	c.logger.Debug().Stringer("session", evt.Session).Msg("echo: client session disconnected")
}

func (c *clientActor) finish(err error) {
	if c.reported {
		return
	}
	c.reported = true
	c.done <- err
}

func main() {
	total := flag.Int("n", 1000, "number of framed messages to exchange")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "echo: config:", err)
		os.Exit(1)
	}

	logger := corelog.New(corelog.Config{
		Level:   corelog.Level(cfg.Logging.Level),
		Format:  corelog.Format(cfg.Logging.Format),
		Service: "echo",
	})
	met := metrics.New(prometheus.NewRegistry())
	pool := bufpool.New()

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
		fmt.Fprintln(os.Stderr, "echo: runtime init:", err)
		os.Exit(1)
	}

	listener, err := transport.Listen("127.0.0.1:0", transport.DefaultListenerConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "echo: listen:", err)
		os.Exit(1)
	}

	if _, err := m.Core(0).AddActor(&acceptorActor{listener: listener, pool: pool, logger: logger, metrics: met}); err != nil {
		fmt.Fprintln(os.Stderr, "echo: spawn acceptor:", err)
		os.Exit(1)
	}

	done := make(chan error, 1)
	client := &clientActor{
		serverAddr: listener.Addr().String(),
		total:      *total,
		pool:       pool,
		logger:     logger,
		metrics:    met,
		done:       done,
	}
	if _, err := m.Core(1).AddActor(client); err != nil {
		fmt.Fprintln(os.Stderr, "echo: spawn client:", err)
		os.Exit(1)
	}

	if err := m.Start(false); err != nil {
		fmt.Fprintln(os.Stderr, "echo: start:", err)
		os.Exit(1)
	}

	runErr := <-done
	m.Stop()
	m.Join()

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "echo: FAILED:", runErr)
		os.Exit(1)
	}
	fmt.Printf("echo: exchanged %d framed messages, all checksums matched\n", *total)
}
