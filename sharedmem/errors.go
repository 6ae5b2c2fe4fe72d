package sharedmem

import "errors"

// ErrQueueFull is returned by an SPMC Producer's Reserve when the
// requested span would overtake the consumer's cursor. On a single
// producer this is a programming error (the producer did not size its
// ring for its own throughput): callers are expected to treat it as
// fatal rather than retry.
var ErrQueueFull = errors.New("sharedmem: queue full")

// ErrWouldBlock is returned by an MPSC Producer's Reserve when another
// producer's concurrent reservation made the compare-and-swap on the
// write cursor lose its race. Unlike ErrQueueFull this is an expected,
// retryable outcome of contention, named the way this corpus's
// lock-free queue package names its own CAS-retry sentinel.
var ErrWouldBlock = errors.New("sharedmem: reservation raced, retry")

var errQueuePowerOfTwo = errors.New("sharedmem: ring line count must be a power of two")

var errQueueRegionTooSmall = errors.New("sharedmem: backing region too small for requested ring size")

// ErrReservationPending is a programming-invariant violation: Reserve
// was called again before the previous reservation's Publish.
var ErrReservationPending = errors.New("sharedmem: previous reservation not yet published")
