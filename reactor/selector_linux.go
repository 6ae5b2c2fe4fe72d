//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// epollBackend is the Linux selectorBackend, using epoll(7). Grounded on
// the original EPollSelector (selector_epoll.cpp): EPOLLIN|EPOLLPRI for
// read-class interest, EPOLLOUT for write-class interest, with
// EPOLLERR|EPOLLHUP surfacing as both classes.
type epollBackend struct {
	epfd     int
	events   []unix.EpollEvent
	capacity int
}

func newSelectorBackend(capacity int) (selectorBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, capacity),
		capacity: capacity,
	}, nil
}

// NewSelector constructs a Selector backed by epoll.
func NewSelector(cfg Config) (*Selector, error) {
	cap := cfg.MaxRegistrations
	if cap <= 0 {
		cap = MaxRegistrations
	}
	b, err := newSelectorBackend(cap)
	if err != nil {
		return nil, newFatalError("epoll_create1", err)
	}
	return newSelector(cfg, b), nil
}

func opsToEpoll(ops Ops) uint32 {
	var ev uint32
	if ops.has(OpAccept) || ops.has(OpRead) {
		ev |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if ops.has(OpConnect) || ops.has(OpWrite) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func epollToClass(events uint32) Ops {
	var class Ops
	if events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		return ReadClass | WriteClass
	}
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		class |= ReadClass
	}
	if events&unix.EPOLLOUT != 0 {
		class |= WriteClass
	}
	return class
}

func (b *epollBackend) registerFD(fd int, ops Ops) error {
	ev := unix.EpollEvent{Events: opsToEpoll(ops), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (b *epollBackend) modifyFD(fd int, ops Ops) error {
	ev := unix.EpollEvent{Events: opsToEpoll(ops), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (b *epollBackend) deregisterFD(fd int) error {
	// EBADF (the fd was already closed by the handler) is returned like any
	// other error; Selector.compact tolerates and logs it.
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) wait(timeoutMs int, out []rawEvent) (int, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, errInterrupted{}
		}
		return 0, err
	}
	count := 0
	for i := 0; i < n && count < len(out); i++ {
		class := epollToClass(b.events[i].Events)
		if class == 0 {
			continue
		}
		out[count] = rawEvent{fd: int(b.events[i].Fd), class: class}
		count++
	}
	return count, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}
