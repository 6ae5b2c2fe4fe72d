//go:build !linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// pollBackend is the portable selectorBackend, using poll(2). Grounded on
// the original PollSelector (selector_poll.cpp): POLLIN|POLLPRI for
// read-class interest, POLLOUT for write-class interest, with
// POLLERR|POLLHUP|POLLNVAL surfacing as both classes.
type pollBackend struct {
	fds      []unix.PollFd
	indexFD  map[int]int
	capacity int
}

func newSelectorBackend(capacity int) (selectorBackend, error) {
	return &pollBackend{
		fds:      make([]unix.PollFd, 0, capacity),
		indexFD:  make(map[int]int, capacity),
		capacity: capacity,
	}, nil
}

// NewSelector constructs a Selector backed by poll(2).
func NewSelector(cfg Config) (*Selector, error) {
	cap := cfg.MaxRegistrations
	if cap <= 0 {
		cap = MaxRegistrations
	}
	b, _ := newSelectorBackend(cap)
	return newSelector(cfg, b), nil
}

func opsToPoll(ops Ops) int16 {
	var ev int16
	if ops.has(OpAccept) || ops.has(OpRead) {
		ev |= unix.POLLIN | unix.POLLPRI
	}
	if ops.has(OpConnect) || ops.has(OpWrite) {
		ev |= unix.POLLOUT
	}
	return ev
}

func pollToClass(revents int16) Ops {
	var class Ops
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return ReadClass | WriteClass
	}
	if revents&(unix.POLLIN|unix.POLLPRI) != 0 {
		class |= ReadClass
	}
	if revents&unix.POLLOUT != 0 {
		class |= WriteClass
	}
	return class
}

func (b *pollBackend) registerFD(fd int, ops Ops) error {
	b.indexFD[fd] = len(b.fds)
	b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: opsToPoll(ops)})
	return nil
}

func (b *pollBackend) modifyFD(fd int, ops Ops) error {
	idx, ok := b.indexFD[fd]
	if !ok {
		return unix.EBADF
	}
	b.fds[idx].Events = opsToPoll(ops)
	return nil
}

func (b *pollBackend) deregisterFD(fd int) error {
	idx, ok := b.indexFD[fd]
	if !ok {
		// tolerated: already gone.
		return nil
	}
	last := len(b.fds) - 1
	moved := b.fds[last]
	b.fds[idx] = moved
	b.fds = b.fds[:last]
	delete(b.indexFD, fd)
	if moved.Fd != int32(fd) {
		b.indexFD[int(moved.Fd)] = idx
	}
	return nil
}

func (b *pollBackend) wait(timeoutMs int, out []rawEvent) (int, error) {
	if len(b.fds) == 0 {
		return 0, nil
	}
	n, err := unix.Poll(b.fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, errInterrupted{}
		}
		return 0, err
	}
	count := 0
	for i := 0; i < len(b.fds) && n > 0 && count < len(out); i++ {
		if b.fds[i].Revents == 0 {
			continue
		}
		n--
		class := pollToClass(b.fds[i].Revents)
		b.fds[i].Revents = 0
		if class == 0 {
			continue
		}
		out[count] = rawEvent{fd: int(b.fds[i].Fd), class: class}
		count++
	}
	return count, nil
}

func (b *pollBackend) close() error { return nil }
