package sharedmem

import "fmt"

// MPSCProducer writes records into a ring any number of producer
// processes can reserve space in concurrently: reservation advances the
// shared write cursor with a compare-and-swap rather than an
// unconditional store, and publication is a fetch-and-add on the
// reserved record's own data-count word so two producers publishing
// records that happen to be adjacent never clobber each other.
type MPSCProducer struct {
	ring *ringLayout

	reserved     *ringRecord
	reserveCount uint64
}

// NewMPSCProducer creates a producer over an already-sized ring region.
// clear zeroes the region first; pass true only for the process that
// originally creates the backing shared memory.
func NewMPSCProducer(mem *SharedMemory, lines uint64, clear bool) (*MPSCProducer, error) {
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
	return &MPSCProducer{ring: ring}, nil
}

// Reserve claims enough cache-line slots to hold length bytes. On a
// losing race against another producer's concurrent Reserve it returns
// ErrWouldBlock; the caller is expected to retry the whole call, not
// just the compare-and-swap, since the line count and skip padding may
// differ on the next attempt.
func (p *MPSCProducer) Reserve(length int) ([]byte, error) {
	if p.reserved != nil {
		panic("sharedmem: MPSCProducer.Reserve called before Publish")
	}

	lines := linesNeeded(length)

	// Cached rather than re-read after the CAS: a losing CAS means
	// someone else moved it, and the caller retries from scratch.
	acquire := p.ring.header.writeIndex.LoadAcquire()
	normalized := acquire & p.ring.mask
	goal := acquire + lines

	var skip uint64
	if normalized+lines > p.ring.lines {
		skip = p.ring.lines - normalized
		goal += skip
	}

	consumeIndex := p.ring.header.consumeIndex.LoadAcquire()
	if goal-consumeIndex >= p.ring.lines {
		return nil, fmt.Errorf("sharedmem: reserve %d bytes: %w", length, ErrQueueFull)
	}

	if !p.ring.header.writeIndex.CompareAndSwapAcqRel(acquire, goal) {
		return nil, ErrWouldBlock
	}

	record := p.ring.recordAt(acquire)
	if record.dataCount.Load() != 0 {
		panic("sharedmem: MPSC record not yet consumed; ring is undersized for its producers")
	}
	record.skipCount = uint32(skip)
	p.reserved = record
	p.reserveCount = lines

	payloadIndex := acquire
	if skip != 0 {
		payloadIndex += skip
	}

	return p.ring.payloadAt(payloadIndex, length), nil
}

// Publish makes the most recent Reserve visible to the consumer. This
// is a fetch-and-add rather than a store, so a concurrent publish of an
// adjacent reservation by another producer can never be lost.
func (p *MPSCProducer) Publish() {
	if p.reserved == nil {
		panic("sharedmem: MPSCProducer.Publish called without a pending Reserve")
	}
	p.reserved.dataCount.Add(uint32(p.reserveCount))
	p.reserveCount = 0
	p.reserved = nil
}

// MPSCConsumer is the single reader of an MPSC ring: exactly one
// process may hold a consumer for a given ring, since the consume
// cursor is advanced with no coordination beyond the atomics shared
// with producers.
type MPSCConsumer struct {
	ring *ringLayout

	reserved      *ringRecord
	reservedIndex uint64
}

// NewMPSCConsumer attaches a consumer to an already-sized ring region.
func NewMPSCConsumer(mem *SharedMemory, lines uint64) (*MPSCConsumer, error) {
	ring, err := newRingLayout(mem.Bytes(), lines)
	if err != nil {
		return nil, err
	}
	return &MPSCConsumer{ring: ring}, nil
}

// Next returns the payload of the oldest unconsumed record, or
// ok=false if the consumer has caught up with every producer, or if the
// next record's publication has been reserved but not yet published
// (data_count still zero). The caller must Consume before calling Next
// again.
func (c *MPSCConsumer) Next() (data []byte, ok bool) {
	if c.reserved != nil {
		panic("sharedmem: MPSCConsumer.Next called before Consume")
	}

	last := c.ring.header.writeIndex.LoadAcquire()
	consumeIndex := c.ring.header.consumeIndex.LoadAcquire()
	if consumeIndex == last {
		return nil, false
	}

	record := c.ring.recordAt(consumeIndex)
	dataCount := record.dataCount.Load()
	if dataCount == 0 {
		return nil, false
	}

	c.reserved = record
	c.reservedIndex = consumeIndex

	skipCount := uint64(record.skipCount)
	payloadIndex := consumeIndex
	if skipCount != 0 {
		payloadIndex += skipCount
	}

	return c.ring.payloadAt(payloadIndex, int(dataCount)*CacheLineSize-8), true
}

// Consume zeroes the data-count of every record the last Next call
// spanned (skip records included, since a producer's invariant check
// on Reserve requires a slot's data_count to read zero before reuse)
// and advances the shared consume cursor past them.
func (c *MPSCConsumer) Consume() {
	if c.reserved == nil {
		panic("sharedmem: MPSCConsumer.Consume called without a pending Next")
	}

	dataCount := uint64(c.reserved.dataCount.Load())
	skipCount := uint64(c.reserved.skipCount)

	base := c.reservedIndex
	if skipCount != 0 {
		for i := uint64(0); i < skipCount; i++ {
			c.ring.recordAt(base + i).dataCount.Store(0)
		}
		// A reservation that skips always lands its data records at
		// the start of the ring array; see Reserve's goal/skip math.
		base = 0
	}
	for i := uint64(0); i < dataCount; i++ {
		c.ring.recordAt(base + i).dataCount.Store(0)
	}

	c.ring.header.consumeIndex.AddAcqRel(dataCount + skipCount)
	c.reserved = nil
}
