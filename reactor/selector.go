package reactor

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// MaxRegistrations is the fixed capacity of a Selector's registration
// table. The original C++ source carries this constant with a "why this
// max???" comment; it is preserved here and exposed as Config.MaxRegistrations
// for callers who want to size it deliberately instead of inheriting the
// historical default.
const MaxRegistrations = 128

// DefaultSleepMS is the sleep/poll timeout returned by the scheduler when
// no timers are pending.
const DefaultSleepMS int64 = 60_000

// rawEvent is one OS-reported readiness event, already translated from
// OS-specific flags into the abstract op classes.
type rawEvent struct {
	fd    int
	class Ops // ReadClass, WriteClass, or ReadClass|WriteClass (error)
}

// selectorBackend is the OS-specific half of a Selector: registration with
// the kernel readiness primitive and the blocking wait call. Two
// implementations exist, chosen by build tag: an epoll-based backend on
// Linux and a poll(2)-based backend elsewhere.
type selectorBackend interface {
	registerFD(fd int, ops Ops) error
	modifyFD(fd int, ops Ops) error
	deregisterFD(fd int) error
	wait(timeoutMs int, out []rawEvent) (int, error)
	close() error
}

// errInterrupted is returned by a backend's wait when the underlying
// syscall was interrupted (EINTR); the Selector treats this as "no events"
// rather than an error.
type errInterrupted struct{}

func (errInterrupted) Error() string { return "reactor: interrupted" }

// Config configures a Selector. The zero value is valid and uses the
// historical defaults.
type Config struct {
	// MaxRegistrations overrides MaxRegistrations. Zero means the default.
	MaxRegistrations int
	// Logger receives selector diagnostics (capacity-exhausted, tolerated
	// EBADF on deregistration). A nil Logger is a safe no-op.
	Logger *logiface.Logger[*stumpy.Event]
}

// Selector wraps an OS readiness primitive and owns registrations keyed by
// file descriptor. It is not safe for concurrent use; it is meant to be
// driven from a single reactor thread (see Scheduler).
type Selector struct {
	cap            int
	keys           []*SelectionKey
	byFD           map[int]*SelectionKey
	cancelledCount int
	ready          []*SelectionKey
	eventBuf       []rawEvent
	backend        selectorBackend
	log            *logiface.Logger[*stumpy.Event]
	closed         bool
}

func newSelector(cfg Config, backend selectorBackend) *Selector {
	cap := cfg.MaxRegistrations
	if cap <= 0 {
		cap = MaxRegistrations
	}
	return &Selector{
		cap:      cap,
		keys:     make([]*SelectionKey, 0, cap),
		byFD:     make(map[int]*SelectionKey, cap),
		eventBuf: make([]rawEvent, cap),
		backend:  backend,
		log:      cfg.Logger,
	}
}

// Register creates or updates the key for fd. If a key already exists: a
// non-zero ops updates its interest set and user data (un-cancelling it if
// it had been cancelled but not yet reaped); ops == 0 marks it cancelled.
// If no key exists and ops == 0 this is a no-op and returns (nil, nil).
// Otherwise a new key is allocated and registered with the OS backend,
// failing with ErrCapacityExhausted once MaxRegistrations live
// registrations exist.
func (s *Selector) Register(fd int, ops Ops, userData any) (*SelectionKey, error) {
	if s.closed {
		return nil, ErrSelectorClosed
	}
	if existing, ok := s.byFD[fd]; ok {
		if ops == 0 {
			s.cancel(existing)
			return existing, nil
		}
		if err := s.backend.modifyFD(fd, ops); err != nil {
			return nil, newFatalError("modify", err)
		}
		existing.ops = ops
		existing.userData = userData
		existing.cancelled = false
		return existing, nil
	}
	if ops == 0 {
		return nil, nil
	}
	if len(s.keys) >= s.cap {
		if s.log != nil {
			s.log.Warning().Int(`fd`, fd).Int(`capacity`, s.cap).Log(`reactor: selector capacity exhausted`)
		}
		return nil, ErrCapacityExhausted
	}
	if err := s.backend.registerFD(fd, ops); err != nil {
		return nil, newFatalError("register", err)
	}
	k := &SelectionKey{fd: fd, ops: ops, selector: s, userData: userData}
	s.keys = append(s.keys, k)
	s.byFD[fd] = k
	return k, nil
}

func (s *Selector) setOps(k *SelectionKey, ops Ops) error {
	if ops == 0 {
		return ErrInvalidOps
	}
	if k.cancelled {
		return nil
	}
	if err := s.backend.modifyFD(k.fd, ops); err != nil {
		return newFatalError("modify", err)
	}
	k.ops = ops
	return nil
}

func (s *Selector) cancel(k *SelectionKey) {
	if k.cancelled {
		return
	}
	k.cancelled = true
	s.cancelledCount++
}

// compact performs deferred teardown of cancelled keys: OS deregistration
// (EBADF tolerated and logged), deallocation, and a stable shift of the
// remaining keys so relative order is preserved.
func (s *Selector) compact() {
	if s.cancelledCount == 0 {
		return
	}
	remaining := s.keys[:0]
	for _, k := range s.keys {
		if !k.cancelled {
			remaining = append(remaining, k)
			continue
		}
		if err := s.backend.deregisterFD(k.fd); err != nil {
			if s.log != nil {
				s.log.Warning().Err(err).Int(`fd`, k.fd).Log(`reactor: tolerated error deregistering cancelled key`)
			}
		}
		delete(s.byFD, k.fd)
		k.selector = nil
	}
	s.keys = remaining
	s.cancelledCount = 0
}

// Poll blocks for up to timeoutMs milliseconds for readiness, populates the
// ready-key set (retrievable with ReadyKeys), and returns the number of
// ready keys. EINTR from the OS wait call is reported as zero ready keys,
// not an error; other OS failures are returned wrapped in a *FatalError.
func (s *Selector) Poll(timeoutMs int) (int, error) {
	s.compact()

	s.ready = s.ready[:0]
	if len(s.keys) == 0 {
		if timeoutMs > 0 {
			time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		}
		return 0, nil
	}

	n, err := s.backend.wait(timeoutMs, s.eventBuf)
	if err != nil {
		if _, ok := err.(errInterrupted); ok {
			return 0, nil
		}
		return 0, newFatalError("wait", err)
	}

	for i := 0; i < n; i++ {
		ev := s.eventBuf[i]
		k, ok := s.byFD[ev.fd]
		if !ok {
			continue
		}
		readyOps := ev.class & k.ops
		if readyOps == 0 {
			continue
		}
		k.readyOps = readyOps
		s.ready = append(s.ready, k)
	}
	return len(s.ready), nil
}

// ReadyKeys returns the keys populated by the most recent Poll. The slice
// is only valid until the next call to Poll.
func (s *Selector) ReadyKeys() []*SelectionKey { return s.ready }

// NumberKeys returns the count of live (possibly cancelled-but-not-yet-reaped)
// registrations.
func (s *Selector) NumberKeys() int { return len(s.keys) }

// Close releases the OS backend. The Selector must not be used afterward.
func (s *Selector) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.close()
}
