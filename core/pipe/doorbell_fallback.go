//go:build !linux

package pipe

import "errors"

// Doorbell has no non-Linux backend (see reactor/poller_fallback.go: the
// reactor itself is Linux-only in this build). Kept so package pipe
// compiles on other GOOS values. core never reaches NewDoorbell there:
// newShard creates the reactor first, and its failure makes core.New
// return an error.
type Doorbell struct{}

func NewDoorbell() (*Doorbell, error) {
	return nil, errors.New("pipe: eventfd doorbell unavailable on this platform")
}

func (d *Doorbell) FD() int    { return -1 }
func (d *Doorbell) Ring()      {}
func (d *Doorbell) Drain()     {}
func (d *Doorbell) Close() error { return nil }
