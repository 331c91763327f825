//go:build linux

package pipe

import "golang.org/x/sys/unix"

// Doorbell is an eventfd-backed wakeup a producer shard rings after
// committing to a cross-shard Ring, so the consumer shard's reactor (which
// may be blocked in epoll_wait with no fd activity) returns promptly
// instead of waiting out the rest of its tick period. Each shard owns
// exactly one Doorbell, watched by its own reactor; every peer shard's
// outbound Ring to it shares the same Doorbell via SetDoorbell.
type Doorbell struct {
	fd int
}

// NewDoorbell creates a non-blocking eventfd doorbell.
func NewDoorbell() (*Doorbell, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Doorbell{fd: fd}, nil
}

// FD returns the descriptor to register with a reactor for Readable.
func (d *Doorbell) FD() int { return d.fd }

// Ring increments the eventfd counter, waking an epoll_wait blocked on FD().
func (d *Doorbell) Ring() {
	buf := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	unix.Write(d.fd, buf[:])
}

// Drain resets the eventfd counter to zero after the reactor observes it
// readable.
func (d *Doorbell) Drain() {
	var buf [8]byte
	unix.Read(d.fd, buf[:])
}

// Close releases the eventfd.
func (d *Doorbell) Close() error { return unix.Close(d.fd) }
