package reactor

import (
	"container/heap"
	"time"

	timecache "github.com/agilira/go-timecache"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Selector Config
	Logger   *logiface.Logger[*stumpy.Event]
	// Interrupt, if non-nil, is installed as the scheduler's signal-driven
	// shutdown source. If nil and DisableInterruptHandler is false,
	// NewScheduler installs the platform default (signalfd on Linux, a
	// self-pipe elsewhere).
	Interrupt *InterruptHandler
	// DisableInterruptHandler skips installing any interrupt handler at
	// all, e.g. for tests that construct multiple schedulers in one
	// process (only one may own SIGINT/SIGTERM at a time).
	DisableInterruptHandler bool
}

// Scheduler drives a Selector: it dispatches ready-key callbacks in poll
// order and fires due timers (a min-heap for timed callbacks plus a
// priority-ordered zero-delay list), and owns signal-based shutdown.
type Scheduler struct {
	selector       *Selector
	heap           timerHeap
	zeroHead       *Timer
	lastSelectTime int64
	running        bool
	seq            int64
	clock          *timecache.TimeCache
	log            *logiface.Logger[*stumpy.Event]
	interrupt      *InterruptHandler
}

// NewScheduler constructs a Scheduler with its own Selector and installs a
// SIGINT/SIGTERM interrupt handler per Config.Interrupt.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	sel, err := NewSelector(cfg.Selector)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		selector: sel,
		clock:    timecache.NewWithResolution(time.Millisecond),
		log:      cfg.Logger,
	}
	s.lastSelectTime = s.nowMS()

	ih := cfg.Interrupt
	if ih == nil && !cfg.DisableInterruptHandler {
		ih, err = newInterruptHandler(s)
		if err != nil {
			return nil, err
		}
	}
	s.interrupt = ih
	return s, nil
}

func (s *Scheduler) nowMS() int64 {
	return s.clock.CachedTime().UnixMilli()
}

// NowMS returns the scheduler's cached current time in Unix milliseconds,
// read from the same millisecond-resolution clock cache that Poll stamps
// lastSelectTime from. Handlers use this rather than calling time.Now
// themselves so debounce/backoff decisions use the scheduler's clock.
func (s *Scheduler) NowMS() int64 {
	return s.nowMS()
}

// Selector returns the Scheduler's underlying Selector, for direct
// registration by code that needs the raw key (handlers normally go
// through RegisterHandler instead).
func (s *Scheduler) Selector() *Selector { return s.selector }

// RegisterHandler registers handler's fd with the given interests,
// attaching handler itself as the key's user data.
func (s *Scheduler) RegisterHandler(handler EventHandler, fd int, interests Ops) (*SelectionKey, error) {
	return s.selector.Register(fd, interests, handler)
}

// callLater is invoked by Deferred.CallLater; it is not part of the public
// API surface (users interact with Deferred).
func (s *Scheduler) callLater(ms int64, d *Deferred) *Timer {
	s.seq++
	t := &Timer{deferred: d, priority: d.priority, seq: s.seq}
	if ms <= 0 {
		t.zeroDelay = true
		s.insertZeroDelay(t)
		return t
	}
	t.triggerAt = s.lastSelectTime + ms
	heap.Push(&s.heap, t)
	return t
}

// insertZeroDelay inserts t into the zero-delay list in descending-priority
// order; among equal priorities, new entries are appended after existing
// ones (FIFO within priority).
func (s *Scheduler) insertZeroDelay(t *Timer) {
	if s.zeroHead == nil || s.zeroHead.priority < t.priority {
		t.next = s.zeroHead
		s.zeroHead = t
		return
	}
	cur := s.zeroHead
	for cur.next != nil && cur.next.priority >= t.priority {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
}

func (s *Scheduler) drainZeroDelay() {
	for s.zeroHead != nil {
		t := s.zeroHead
		s.zeroHead = t.next
		t.next = nil
		d := t.deferred
		t.deferred = nil
		if d != nil {
			d.fire()
		}
	}
}

// scheduleLaters drains the zero-delay list to a stable empty state, then
// pops due entries from the timer heap, returning the next recommended
// poll timeout in milliseconds (DefaultSleepMS if nothing is pending).
func (s *Scheduler) scheduleLaters() int64 {
	for s.zeroHead != nil || s.heap.Len() > 0 {
		s.drainZeroDelay()
		if s.heap.Len() == 0 {
			continue
		}
		top := s.heap[0]
		if top.deferred == nil {
			heap.Pop(&s.heap)
			continue
		}
		if top.triggerAt > s.lastSelectTime {
			return top.triggerAt - s.lastSelectTime
		}
		heap.Pop(&s.heap)
		d := top.deferred
		top.deferred = nil
		d.fire()
	}
	return DefaultSleepMS
}

func (s *Scheduler) dispatch(k *SelectionKey) {
	h, ok := k.userData.(EventHandler)
	if !ok || h == nil {
		return
	}
	ready := k.readyOps
	if ready.has(OpRead) {
		h.DoRead(k)
	} else if ready.has(OpAccept) {
		h.DoAccept(k)
	}
	if ready.has(OpWrite) {
		h.DoWrite(k)
	} else if ready.has(OpConnect) {
		h.DoConnect(k)
	}
}

// Poll runs one reactor iteration: selector.Poll, dispatch of ready keys in
// returned order, then scheduleLaters. It returns the next recommended
// timeout in milliseconds, or -1 if the scheduler is not running.
func (s *Scheduler) Poll(timeoutMs int) (int64, error) {
	if !s.running {
		return -1, nil
	}
	_, err := s.selector.Poll(timeoutMs)
	if err != nil {
		return -1, err
	}
	s.lastSelectTime = s.nowMS()

	for _, k := range s.selector.ReadyKeys() {
		if k.cancelled {
			k.readyOps = 0
			continue
		}
		s.dispatch(k)
		k.readyOps = 0
	}

	return s.scheduleLaters(), nil
}

// Run marks the scheduler running. If polling is false it enters the main
// loop and blocks until Shutdown is called (directly or via the installed
// interrupt handler).
func (s *Scheduler) Run(polling bool) error {
	s.running = true
	if polling {
		return nil
	}
	return s.mainLoop()
}

func (s *Scheduler) mainLoop() error {
	timeout := s.scheduleLaters()
	for s.running {
		next, err := s.Poll(int(timeout))
		if err != nil {
			return err
		}
		timeout = next
	}
	return nil
}

// Shutdown clears the running flag; the main loop (if any) exits after its
// current iteration.
func (s *Scheduler) Shutdown() {
	s.running = false
}

// Close releases the scheduler's Selector and interrupt handler.
func (s *Scheduler) Close() error {
	if s.interrupt != nil {
		s.interrupt.Close()
	}
	return s.selector.Close()
}
