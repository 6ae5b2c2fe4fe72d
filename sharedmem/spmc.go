package sharedmem

import "fmt"

// SPMCProducer writes broadcast records into a ring that any number of
// consumers can read without coordinating with each other or with the
// producer: each consumer keeps its own cursor and simply falls behind
// (or, if it falls behind by a full lap, loses data) rather than being
// blocked.
//
// There is no internal synchronization here by design: a single
// producer owns acquireIndex outright, and the only cross-process
// coordination is the release-store of the ring's write cursor in
// Publish and the acquire-load of the consume cursor in Reserve.
type SPMCProducer struct {
	ring *ringLayout

	// acquireIndex mirrors the ring's write cursor but is only ever
	// written by this producer, avoiding an atomic load on every
	// Reserve call.
	acquireIndex uint64

	reserved *ringRecord
}

// NewSPMCProducer creates a producer over an already-sized ring region.
// clear, when true, zeroes the region before use (the creator of a fresh
// shared memory segment should pass true; a process re-attaching to a
// live ring should pass false).
func NewSPMCProducer(mem *SharedMemory, lines uint64, clear bool) (*SPMCProducer, error) {
	if clear {
		b := mem.Bytes()
		for i := range b {
			b[i] = 0
		}
	}
	ring, err := newRingLayout(mem.Bytes(), lines)
	if err != nil {
		return nil, err
	}
	return &SPMCProducer{
		ring:         ring,
		acquireIndex: ring.header.writeIndex.LoadAcquire(),
	}, nil
}

// Reserve claims enough cache-line slots to hold length bytes and
// returns the payload region to write into. The caller must Publish
// before calling Reserve again.
func (p *SPMCProducer) Reserve(length int) ([]byte, error) {
	if p.reserved != nil {
		panic("sharedmem: SPMCProducer.Reserve called before Publish")
	}

	lines := linesNeeded(length)
	normalized := p.acquireIndex & p.ring.mask
	goal := p.acquireIndex + lines

	var skip uint64
	if normalized+lines > p.ring.lines {
		skip = p.ring.lines - normalized
		goal += skip
	}

	consumeIndex := p.ring.header.consumeIndex.LoadAcquire()
	if goal-consumeIndex >= p.ring.lines {
		return nil, fmt.Errorf("sharedmem: reserve %d bytes: %w", length, ErrQueueFull)
	}

	record := p.ring.recordAt(p.acquireIndex)
	record.dataCount.Store(uint32(lines))
	record.skipCount = uint32(skip)
	p.reserved = record

	payloadIndex := p.acquireIndex
	if skip != 0 {
		payloadIndex += skip
	}

	p.acquireIndex += lines + skip

	return p.ring.payloadAt(payloadIndex, length), nil
}

// Publish makes the most recent Reserve visible to consumers.
func (p *SPMCProducer) Publish() {
	if p.reserved == nil {
		panic("sharedmem: SPMCProducer.Publish called without a pending Reserve")
	}
	p.ring.header.writeIndex.StoreRelease(p.acquireIndex)
	p.reserved = nil
}

// SPMCConsumer is one broadcast reader's independent view of an SPMC
// ring. Multiple consumers can exist over the same ring simultaneously,
// each advancing its own cursor; a consumer that never calls next with
// consume=true never advances the ring's shared consume cursor, so it
// is purely a passive "piggy-back" reader riding however far behind the
// producer it likes, bounded only by the ring wrapping underneath it.
type SPMCConsumer struct {
	ring                 *ringLayout
	internalConsumeIndex uint64
}

// NewSPMCConsumer attaches a consumer view to an already-sized ring
// region. It never clears the region: consumers only ever attach to a
// region a producer created.
func NewSPMCConsumer(mem *SharedMemory, lines uint64) (*SPMCConsumer, error) {
	ring, err := newRingLayout(mem.Bytes(), lines)
	if err != nil {
		return nil, err
	}
	return &SPMCConsumer{
		ring:                 ring,
		internalConsumeIndex: ring.header.consumeIndex.LoadAcquire(),
	}, nil
}

// Next returns the payload of the next unread record, or ok=false if
// the consumer has caught up with the producer. When consume is true
// the ring's shared consume cursor is advanced, permitting the producer
// to reclaim the slots; pass false to peek without releasing capacity
// back to the producer.
func (c *SPMCConsumer) Next(consume bool) (data []byte, ok bool) {
	last := c.ring.header.writeIndex.LoadAcquire()
	internal := c.internalConsumeIndex
	if last == internal {
		return nil, false
	}

	record := c.ring.recordAt(internal)
	dataCount := uint64(record.dataCount.Load())
	skipCount := uint64(record.skipCount)
	c.internalConsumeIndex += dataCount + skipCount

	payloadIndex := internal
	if skipCount != 0 {
		payloadIndex += skipCount
	}

	if consume {
		c.ring.header.consumeIndex.StoreRelease(c.internalConsumeIndex)
	}

	return c.ring.payloadAt(payloadIndex, int(dataCount)*CacheLineSize-8), true
}

// ConsumeAll advances the ring's shared consume cursor to everything
// this consumer has read so far via Next(false), releasing that
// capacity back to the producer in one step.
func (c *SPMCConsumer) ConsumeAll() {
	c.ring.header.consumeIndex.StoreRelease(c.internalConsumeIndex)
}

// linesNeeded computes how many cache-line records are required to hold
// length bytes of payload, plus one line of control overhead, matching
// the original fixed-size-record ring layout's accounting.
func linesNeeded(length int) uint64 {
	return uint64((length+7)/CacheLineSize) + 1
}
