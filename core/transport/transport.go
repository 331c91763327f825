// Package transport implements the non-blocking byte-stream/datagram
// primitives of spec.md §4.4 (C4): listeners, dialers and the accepted
// connection type a Session wraps. It knows nothing about actors, events or
// framing — it only produces file descriptors a shard's reactor can watch
// and plain Read/Write/Close operations over them.
//
// Grounded directly on go-server/pkg/websocket/netpoll.go's
// CreateOptimizedListener and SetTCPOptions (the teacher's sibling variant,
// same retrieval pack): SO_REUSEADDR/SO_REUSEPORT at listen time,
// TCP_NODELAY/SO_KEEPALIVE/tuned socket buffers on every accepted
// connection. That code built one raw-socket listener for a single
// WebSocket acceptor; Listen/Dial here generalize the same socket-option
// sequence into transport primitives any Session can use, TCP or UDP.
package transport

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Kind identifies which wire transport a Conn was created over.
type Kind uint8

const (
	TCP Kind = iota
	UDP
)

// Transform wraps a Conn's byte stream, e.g. for TLS or compression.
// Transport itself ships no implementations — TLS/compression are
// explicitly out of core scope (spec.md §1 Non-goals) — and nothing in
// this module applies one: session.Config has no Transform field, and Conn
// reads and writes the raw descriptor directly.
type Transform interface {
	WrapReader(r interface {
		Read([]byte) (int, error)
	}) interface {
		Read([]byte) (int, error)
	}
	WrapWriter(w interface {
		Write([]byte) (int, error)
	}) interface {
		Write([]byte) (int, error)
	}
}

// ErrWouldBlock is returned by Conn.Read/Write when the underlying
// non-blocking descriptor has no data ready; callers (a Session's reactor
// callback) should treat it as "not ready yet", not an error condition.
var ErrWouldBlock = errors.New("transport: operation would block")

func wrapErrno(err error) error {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return ErrWouldBlock
	}
	return err
}

// Conn is a non-blocking connection whose raw descriptor can be registered
// with a core/reactor.Reactor.
type Conn struct {
	fd   int
	kind Kind
	addr net.Addr
}

// Fd returns the descriptor to watch with a shard's reactor.
func (c *Conn) Fd() int { return c.fd }

// Kind reports whether this Conn is backed by a TCP stream or a UDP socket.
func (c *Conn) Kind() Kind { return c.kind }

// RemoteAddr returns the peer address captured at accept/dial time, if
// known.
func (c *Conn) RemoteAddr() net.Addr { return c.addr }

// Read reads up to len(p) bytes. (0, ErrWouldBlock) means "no data
// currently available", not EOF; an orderly peer close (a zero-byte read)
// returns an error for which ErrClosedByPeer reports true.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, wrapErrno(err)
	}
	if n == 0 {
		return 0, errClosedByPeer
	}
	return n, nil
}

// Write writes p, returning ErrWouldBlock if the socket buffer is full.
func (c *Conn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		return n, wrapErrno(err)
	}
	return n, nil
}

// Close releases the underlying descriptor.
func (c *Conn) Close() error { return unix.Close(c.fd) }

var errClosedByPeer = errors.New("transport: connection closed by peer")

// ErrClosedByPeer reports whether err indicates an orderly peer close (a
// zero-byte read), as opposed to a genuine I/O error.
func ErrClosedByPeer(err error) bool { return errors.Is(err, errClosedByPeer) }

func setCommonSockOpts(fd int) {
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 262144)
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 262144)
}

// Dial opens a non-blocking outbound TCP or UDP connection. The dial itself
// is a short blocking call (like net.Dial); only the resulting descriptor
// is switched to non-blocking for the reactor to own afterward.
func Dial(kind Kind, network, addr string) (*Conn, error) {
	c, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	switch conn := c.(type) {
	case *net.TCPConn:
		file, err := conn.File()
		conn.Close()
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		fd, err := unix.Dup(int(file.Fd()))
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		unix.SetNonblock(fd, true)
		setCommonSockOpts(fd)
		return &Conn{fd: fd, kind: TCP, addr: c.RemoteAddr()}, nil
	case *net.UDPConn:
		file, err := conn.File()
		conn.Close()
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		fd, err := unix.Dup(int(file.Fd()))
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		unix.SetNonblock(fd, true)
		return &Conn{fd: fd, kind: UDP, addr: c.RemoteAddr()}, nil
	default:
		c.Close()
		return nil, fmt.Errorf("transport: dial %s: unsupported connection type", addr)
	}
}
