package sharedmem

import (
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// CacheLineSize is the assumed cache line size used to size and align
// ring records, matching the original C++ sharedmem rings.
const CacheLineSize = 64

// pad fills out a cache line after an 8-byte atomic field, mirroring the
// explicit padding the lock-free queue implementations in this corpus use
// to keep independently-written cursors off the same cache line.
type pad [CacheLineSize - 8]byte

// ringHeader is the fixed-size control block at the front of a ring's
// shared memory region: a write cursor advanced by producers and a
// consume cursor advanced by consumers, each pinned to its own cache
// line so a spinning reader on one never bounces the line a writer on
// the other is dirtying.
type ringHeader struct {
	writeIndex   atomix.Uint64
	_            pad
	consumeIndex atomix.Uint64
	_            pad
}

// ringHeaderSize is the byte size of ringHeader, computed rather than
// hardcoded so layout changes above can't silently desync from the
// offsets used to overlay the record array.
var ringHeaderSize = int(unsafe.Sizeof(ringHeader{}))

// ringRecord is one cache-line slot: a lines-in-this-record counter, a
// skip-to-align counter, and the remainder of the line as payload bytes.
// dataCount uses sync/atomic.Uint32 rather than an atomix type: the
// corpus's atomix package has no 32-bit unsigned atomic (only Uint64,
// Int64, Uint128, Bool, Uintptr), and a record's control word needs to
// stay 4 bytes to leave the other 4 for skipCount within one 8-byte word,
// matching the original CacheLine{uint32_t data_count; uint32_t skip_count}
// layout exactly.
type ringRecord struct {
	dataCount atomic.Uint32
	skipCount uint32
	payload   [CacheLineSize - 8]byte
}

// ringRecordSize is the byte size of one ringRecord; by construction this
// is exactly CacheLineSize.
var ringRecordSize = int(unsafe.Sizeof(ringRecord{}))

// ringLayout overlays a ring's header and record array on top of a raw
// mmap'd byte slice, without copying: producers and consumers in other
// processes observe writes through the same backing pages.
type ringLayout struct {
	header  *ringHeader
	records []ringRecord
	// lines is the number of cache-line slots in the ring; callers must
	// size the backing region to ringHeaderSize + lines*CacheLineSize
	// before calling newRingLayout, and lines must be a power of two so
	// index wrapping can use a cheap AND-mask.
	lines uint64
	mask  uint64
}

// newRingLayout validates that lines is a power of two and that region is
// at least RingRegionSize(lines) bytes, and returns the typed overlay. region must outlive the returned ringLayout: it is typically
// the []byte backing a *SharedMemory.
func newRingLayout(region []byte, lines uint64) (*ringLayout, error) {
	if lines == 0 || (lines&(lines-1)) != 0 {
		return nil, errQueuePowerOfTwo
	}
	want := RingRegionSize(lines)
	if len(region) < want {
		return nil, errQueueRegionTooSmall
	}

	header := (*ringHeader)(unsafe.Pointer(&region[0]))
	recordsBase := unsafe.Add(unsafe.Pointer(&region[0]), ringHeaderSize)
	records := unsafe.Slice((*ringRecord)(recordsBase), lines)

	return &ringLayout{
		header:  header,
		records: records,
		lines:   lines,
		mask:    lines - 1,
	}, nil
}

// RingRegionSize returns the total byte size a ring with the given
// number of cache-line slots needs: header plus one ringRecord per slot.
// Callers use this to size the SharedMemory region passed to Create.
func RingRegionSize(lines uint64) int {
	return ringHeaderSize + int(lines)*ringRecordSize
}

func (r *ringLayout) recordAt(index uint64) *ringRecord {
	return &r.records[index&r.mask]
}

// payloadAt returns a length-byte slice starting at the payload field of
// the record at index, running contiguously across however many
// trailing records the reservation that created it spanned. This relies
// on the caller (Reserve) having chosen index such that index+lines
// never wraps past the end of the backing array, so the bytes beyond
// the first record's own 56-byte payload field are simply the next
// records' raw bytes reinterpreted as payload, exactly as the original
// fixed-size-record ring does by returning a single pointer into a
// contiguous C array.
func (r *ringLayout) payloadAt(index uint64, length int) []byte {
	record := &r.records[index&r.mask]
	return unsafe.Slice((*byte)(unsafe.Pointer(&record.payload[0])), length)
}
