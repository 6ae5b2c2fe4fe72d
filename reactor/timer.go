package reactor

// Timer is the scheduler's view of a Deferred's pending callback. A Timer
// is created by Deferred when it arms and destroyed by the scheduler
// either immediately after firing or upon observing, during a scan, that
// its Deferred has been cancelled (deferred nulls the back-pointer; it
// never deletes the Timer itself). A Deferred has at most one live Timer.
type Timer struct {
	deferred  *Deferred
	priority  uint
	triggerAt int64 // wall-clock Unix ms (the scheduler clock), not a monotonic reading; meaningful only for heap (non-zero-delay) timers
	zeroDelay bool
	seq       int64 // heap insertion order, used as a tie-break on equal triggerAt
	next      *Timer
}

// timerHeap is a container/heap.Interface ordered by (triggerAt, seq),
// i.e. earliest first, ties broken by insertion order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].triggerAt != h[j].triggerAt {
		return h[i].triggerAt < h[j].triggerAt
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*Timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
