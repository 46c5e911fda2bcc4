//go:build linux

// Package poller wraps the epoll readiness facility. Registrations carry an
// opaque 64-bit tag that is returned verbatim with each readiness event, so
// the caller can recover which logical entity an event is about without
// scanning its registrations. Level-triggered semantics: a descriptor with
// unread data stays ready on the next wait.
package poller

import (
	"fmt"

	"golang.org/x/sys/unix"

	iriserr "github.com/geokapp/iris/core/errors"
)

// Event is one readiness notification.
type Event struct {
	Tag      uint64
	Readable bool
}

type Poller struct {
	epfd int
	buf  []unix.EpollEvent
}

// Open creates a new empty readiness set.
func Open() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// Register adds fd to the readiness set for read readiness. The tag is
// stable for the lifetime of the registration. The 64-bit tag rides in the
// event payload, split across the Fd and Pad fields of the epoll event.
func (p *Poller) Register(fd int32, tag uint64) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(uint32(tag)),
		Pad:    int32(uint32(tag >> 32)),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("register fd %d: %w: %v", fd, iriserr.ErrRegistration, err)
	}
	return nil
}

// Deregister removes fd from the readiness set. Best-effort: callers may
// ignore the error, a descriptor that was never registered is not a fault.
func (p *Poller) Deregister(fd int32) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("deregister fd %d: %v", fd, err)
	}
	return nil
}

// Wait blocks until at least one registered descriptor is ready, then fills
// events and returns the count. Signal interruption is retried transparently;
// any other failure is ErrWait and the poller should be considered unusable.
func (p *Poller) Wait(events []Event) (int, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("wait: empty event buffer: %w", iriserr.ErrInvalidArgument)
	}
	if cap(p.buf) < len(events) {
		p.buf = make([]unix.EpollEvent, len(events))
	}
	buf := p.buf[:len(events)]
	for {
		n, err := unix.EpollWait(p.epfd, buf, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("epoll_wait: %w: %v", iriserr.ErrWait, err)
		}
		for i := 0; i < n; i++ {
			events[i] = Event{
				Tag:      uint64(uint32(buf[i].Fd)) | uint64(uint32(buf[i].Pad))<<32,
				Readable: buf[i].Events&unix.EPOLLIN != 0,
			}
		}
		return n, nil
	}
}

// Close releases the readiness set. Idempotent.
func (p *Poller) Close() error {
	if p.epfd == -1 {
		return nil
	}
	epfd := p.epfd
	p.epfd = -1
	if err := unix.Close(epfd); err != nil {
		return fmt.Errorf("close epoll: %w: %v", iriserr.ErrIO, err)
	}
	return nil
}
