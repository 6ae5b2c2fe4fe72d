package reactor

import "strconv"

// SelectionKey is the owning handle for one registered file descriptor
// inside a Selector. A key is created by Selector.Register and torn down
// at most once, in the poll cycle after it was cancelled, so that pointers
// held by the current dispatch remain valid for its whole duration.
type SelectionKey struct {
	fd        int
	ops       Ops
	readyOps  Ops
	cancelled bool
	selector  *Selector
	userData  any
}

// Fd returns the registered file descriptor.
func (k *SelectionKey) Fd() int { return k.fd }

// Ops returns the currently requested interest set.
func (k *SelectionKey) Ops() Ops { return k.ops }

// ReadyOps returns the readiness set observed by the most recent poll.
// It is cleared at the end of each dispatch.
func (k *SelectionKey) ReadyOps() Ops { return k.readyOps }

// Cancelled reports whether Cancel has been called on this key. A
// cancelled key may still appear in a poll's ready set if cancellation
// happened during the same poll cycle; callers must check this flag.
func (k *SelectionKey) Cancelled() bool { return k.cancelled }

// UserData returns the opaque value attached at Register time, typically
// an EventHandler.
func (k *SelectionKey) UserData() any { return k.userData }

// SetUserData replaces the opaque value attached to this key.
func (k *SelectionKey) SetUserData(v any) { k.userData = v }

// SetOps updates the interest set. ops must be non-zero; to stop watching
// a descriptor entirely, call Cancel instead.
func (k *SelectionKey) SetOps(ops Ops) error {
	if k.selector == nil {
		return ErrSelectorClosed
	}
	return k.selector.setOps(k, ops)
}

// Cancel marks the key cancelled. Idempotent. Physical teardown (OS
// deregistration and deallocation) happens at the start of the next poll.
func (k *SelectionKey) Cancel() {
	if k.selector == nil || k.cancelled {
		return
	}
	k.selector.cancel(k)
}

func (k *SelectionKey) String() string {
	return "SelectionKey{fd=" + strconv.Itoa(k.fd) + ", ops=" + k.ops.String() + "}"
}
