//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is grounded directly on go-server/pkg/websocket/netpoll.go's
// EpollServer: epoll_create1, level-triggered epoll_ctl registration (no
// EPOLLET), and a
// epoll_wait-driven Wait loop, generalized here from "accept-only listener
// demux" to an arbitrary-fd, arbitrary-eventset per-shard multiplexer.
type epollPoller struct {
	epfd      int
	events    []unix.EpollEvent
	watchers  map[WatcherID]*watcherEntry
	byFD      map[int]WatcherID
	nextID    uint64
}

type watcherEntry struct {
	fd     int
	events EventSet
	cb     func(EventSet)
}

func newPoller(maxEvents int) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, ErrReactorInit
	}
	return &epollPoller{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, maxEvents),
		watchers: make(map[WatcherID]*watcherEntry),
		byFD:     make(map[int]WatcherID),
	}, nil
}

func toEpollMask(e EventSet) uint32 {
	var m uint32
	if e&Readable != 0 {
		m |= unix.EPOLLIN
	}
	if e&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	// Errors and hangups are always reported by the kernel regardless of
	// the requested mask; ErrorEvent exists as an API-level bit so callers
	// can express intent, not because it changes the epoll_ctl call.
	return m
}

func (p *epollPoller) add(fd int, events EventSet, cb func(EventSet)) (WatcherID, error) {
	p.nextID++
	id := WatcherID(p.nextID)
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, err
	}
	p.watchers[id] = &watcherEntry{fd: fd, events: events, cb: cb}
	p.byFD[fd] = id
	return id, nil
}

func (p *epollPoller) rearm(id WatcherID, events EventSet) error {
	w, ok := p.watchers[id]
	if !ok {
		return nil
	}
	w.events = events
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(w.fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, w.fd, &ev)
}

func (p *epollPoller) remove(id WatcherID) {
	w, ok := p.watchers[id]
	if !ok {
		return
	}
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, w.fd, nil)
	delete(p.byFD, w.fd)
	delete(p.watchers, id)
}

func (p *epollPoller) wait(timeout time.Duration) error {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	if timeout <= 0 {
		ms = 0
	}
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		id, ok := p.byFD[int(ev.Fd)]
		if !ok {
			continue
		}
		w := p.watchers[id]
		if w == nil {
			continue
		}
		var got EventSet
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
			got |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			got |= Writable
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			got |= ErrorEvent
		}
		w.cb(got)
	}
	return nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
