package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ListenerConfig tunes the accept-side socket, grounded on the teacher's
// CreateOptimizedListener (go-server/pkg/websocket/netpoll.go).
type ListenerConfig struct {
	Backlog      int
	ReusePort    bool
	RecvBufBytes int
	SendBufBytes int
}

// DefaultListenerConfig mirrors the teacher's hardcoded tuning constants.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{Backlog: 1024, ReusePort: true, RecvBufBytes: 262144, SendBufBytes: 262144}
}

// Listener is a non-blocking TCP listener whose descriptor a shard's
// reactor watches for Readable to learn a connection is pending.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

// Listen creates and binds a non-blocking TCP listener at addr.
func Listen(addr string, cfg ListenerConfig) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if cfg.ReusePort {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}
	if cfg.RecvBufBytes > 0 {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBufBytes)
	}
	if cfg.SendBufBytes > 0 {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufBytes)
	}

	var sa unix.SockaddrInet4
	sa.Port = tcpAddr.Port
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	boundAddr := tcpAddr
	if sn, err := unix.Getsockname(fd); err == nil {
		if in4, ok := sn.(*unix.SockaddrInet4); ok {
			boundAddr = &net.TCPAddr{IP: net.IP(in4.Addr[:]), Port: in4.Port}
		}
	}
	return &Listener{fd: fd, addr: boundAddr}, nil
}

// Fd returns the listening descriptor to watch for Readable.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.addr }

// Close stops accepting and releases the descriptor.
func (l *Listener) Close() error { return unix.Close(l.fd) }

// Accept accepts one pending connection. Callers invoke this from a
// reactor callback after Readable fires on Fd(); ErrWouldBlock means the
// readiness notification was spurious (e.g. another accept won the race
// under SO_REUSEPORT) and there is nothing pending right now.
func (l *Listener) Accept() (*Conn, error) {
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, wrapErrno(err)
	}
	setCommonSockOpts(nfd)

	var raddr net.Addr
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		raddr = &net.TCPAddr{IP: net.IP(in4.Addr[:]), Port: in4.Port}
	}
	return &Conn{fd: nfd, kind: TCP, addr: raddr}, nil
}
