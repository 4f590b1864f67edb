// Package netpoll wraps Linux epoll as the reactor's readiness dispatcher:
// add/modify/remove registrations plus an indexed wait() result, mirroring
// the teacher's poller abstraction underneath gaio's watcher loop.
package netpoll

import (
	"golang.org/x/sys/unix"
)

// Event masks re-exported so callers never import golang.org/x/sys/unix
// directly just to build a registration.
const (
	EventRead     = unix.EPOLLIN
	EventWrite    = unix.EPOLLOUT
	EventEdge     = unix.EPOLLET
	EventOneShot  = unix.EPOLLONESHOT
	EventRDHup    = unix.EPOLLRDHUP
	EventHup      = unix.EPOLLHUP
	EventErr      = unix.EPOLLERR
)

// ReadyEvent is one fd's readiness report, detached from the Dispatcher's
// own reusable events slice so it can be handed off across goroutines.
type ReadyEvent struct {
	Fd     int
	Events uint32
}

// Dispatcher wraps one epoll instance.
type Dispatcher struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates a Dispatcher able to report up to maxEvents ready events per
// Wait call.
func New(maxEvents int) (*Dispatcher, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Add registers fd with the given event mask.
func (d *Dispatcher) Add(fd int, events uint32) error {
	return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// Modify changes fd's registered event mask. This is the one synchronization
// point a one-shot registration requires before it will fire again.
func (d *Dispatcher) Modify(fd int, events uint32) error {
	return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// Remove deregisters fd. Callers must do this before closing the fd to
// avoid spurious events landing on a reused descriptor.
func (d *Dispatcher) Remove(fd int) error {
	return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to timeoutMs milliseconds (-1 = indefinitely) and
// returns the number of ready events, retrying transparently on EINTR.
func (d *Dispatcher) Wait(timeoutMs int) (int, error) {
	for {
		n, err := unix.EpollWait(d.epfd, d.events, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// EventFD returns the fd associated with the i'th ready event from the
// most recent Wait call.
func (d *Dispatcher) EventFD(i int) int { return int(d.events[i].Fd) }

// EventMask returns the event mask of the i'th ready event.
func (d *Dispatcher) EventMask(i int) uint32 { return d.events[i].Events }

// Close releases the epoll fd.
func (d *Dispatcher) Close() error { return unix.Close(d.epfd) }
