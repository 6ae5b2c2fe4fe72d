// Package bytebuffer implements a windowed pos/limit/capacity byte buffer,
// the contract shared by the streamer package's inbound/outbound buffers.
package bytebuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultCapacity is the buffer size used when none is specified.
const DefaultCapacity = 1024

// ErrUnderflow is raised by a get/skip operation that would read past limit.
var ErrUnderflow = errors.New("bytebuffer: underflow")

// ErrOverflow is raised by a put operation that would write past limit.
var ErrOverflow = errors.New("bytebuffer: overflow")

// ByteBuffer is a position/limit/capacity byte window, either owning its
// backing array or wrapping caller-provided memory. All scalar accessors
// use little-endian encoding.
type ByteBuffer struct {
	buf      []byte
	pos      int
	limit    int
	markpos  int
	capacity int
}

// New allocates a ByteBuffer owning a capacity-byte backing array.
func New(capacity int) *ByteBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ByteBuffer{buf: make([]byte, capacity), pos: 0, limit: capacity, markpos: -1, capacity: capacity}
}

// Wrap builds a ByteBuffer over caller-provided memory; the buffer does not
// own it and never reallocates.
func Wrap(b []byte) *ByteBuffer {
	return &ByteBuffer{buf: b, pos: 0, limit: len(b), markpos: -1, capacity: len(b)}
}

// Clear resets pos to 0 and limit to capacity without touching contents.
func (b *ByteBuffer) Clear() {
	b.pos = 0
	b.limit = b.capacity
}

// Remaining returns limit - pos.
func (b *ByteBuffer) Remaining() int { return b.limit - b.pos }

// Pos returns the current position.
func (b *ByteBuffer) Pos() int { return b.pos }

// Limit returns the current limit.
func (b *ByteBuffer) Limit() int { return b.limit }

// Capacity returns the backing array's size.
func (b *ByteBuffer) Capacity() int { return b.capacity }

// Flip prepares the buffer for reading what was just written: limit := pos,
// pos := 0.
func (b *ByteBuffer) Flip() {
	b.limit = b.pos
	b.pos = 0
}

// Compact moves the unread region [pos,limit) down to offset 0, sets
// pos := remaining, limit := capacity. When nothing remains it is the same
// as Clear.
func (b *ByteBuffer) Compact() {
	remaining := b.Remaining()
	if remaining == 0 {
		b.Clear()
		return
	}
	if b.pos != 0 {
		copy(b.buf[0:remaining], b.buf[b.pos:b.limit])
	}
	b.pos = remaining
	b.limit = b.capacity
}

// Mark records the current position for a later ResetFromMark.
func (b *ByteBuffer) Mark() { b.markpos = b.pos }

// ResetFromMark restores pos to the most recent Mark.
func (b *ByteBuffer) ResetFromMark() {
	if b.markpos >= 0 {
		b.pos = b.markpos
	}
}

// Skip advances pos by size bytes, raising ErrUnderflow if fewer remain.
func (b *ByteBuffer) Skip(size int) error {
	if size > b.Remaining() {
		return b.underflow()
	}
	b.pos += size
	return nil
}

// InternalBuf returns a view into the backing array starting at pos+incr,
// for callers (e.g. a non-blocking socket read) that need to write or read
// directly without a copy. Callers must advance pos themselves afterward.
func (b *ByteBuffer) InternalBuf(incr int) []byte {
	return b.buf[b.pos+incr:]
}

func (b *ByteBuffer) underflow() error {
	return fmt.Errorf("%w: %s", ErrUnderflow, b.repr())
}

func (b *ByteBuffer) overflow() error {
	return fmt.Errorf("%w: %s", ErrOverflow, b.repr())
}

func (b *ByteBuffer) repr() string {
	return fmt.Sprintf("ByteBuffer{pos=%d, limit=%d, capacity=%d}", b.pos, b.limit, b.capacity)
}

// ReadBytes copies size bytes from pos into a new slice, advancing pos.
func (b *ByteBuffer) ReadBytes(size int) ([]byte, error) {
	if size > b.Remaining() {
		return nil, b.underflow()
	}
	out := make([]byte, size)
	copy(out, b.buf[b.pos:b.pos+size])
	b.pos += size
	return out, nil
}

// WriteBytes copies data into the buffer at pos, advancing pos.
func (b *ByteBuffer) WriteBytes(data []byte) error {
	if len(data) > b.Remaining() {
		return b.overflow()
	}
	copy(b.buf[b.pos:], data)
	b.pos += len(data)
	return nil
}

// GetString reads size bytes as a string, advancing pos.
func (b *ByteBuffer) GetString(size int) (string, error) {
	raw, err := b.ReadBytes(size)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// PutString writes data's bytes; size defaults to len(data)+1 (matching the
// original's null-terminator convention) when size < 0.
func (b *ByteBuffer) PutString(data string, size int) error {
	if size < 0 {
		size = len(data) + 1
	}
	if size > b.Remaining() {
		return b.overflow()
	}
	n := copy(b.buf[b.pos:], data)
	for i := n; i < size; i++ {
		b.buf[b.pos+i] = 0
	}
	b.pos += size
	return nil
}

func (b *ByteBuffer) GetBool() (bool, error) {
	v, err := b.GetUint8()
	return v != 0, err
}

func (b *ByteBuffer) PutBool(v bool) error {
	if v {
		return b.PutUint8(1)
	}
	return b.PutUint8(0)
}

func (b *ByteBuffer) GetUint8() (uint8, error) {
	if 1 > b.Remaining() {
		return 0, b.underflow()
	}
	v := b.buf[b.pos]
	b.pos++
	return v, nil
}

func (b *ByteBuffer) PutUint8(v uint8) error {
	if 1 > b.Remaining() {
		return b.overflow()
	}
	b.buf[b.pos] = v
	b.pos++
	return nil
}

func (b *ByteBuffer) GetUint16() (uint16, error) {
	if 2 > b.Remaining() {
		return 0, b.underflow()
	}
	v := binary.LittleEndian.Uint16(b.buf[b.pos:])
	b.pos += 2
	return v, nil
}

func (b *ByteBuffer) PutUint16(v uint16) error {
	if 2 > b.Remaining() {
		return b.overflow()
	}
	binary.LittleEndian.PutUint16(b.buf[b.pos:], v)
	b.pos += 2
	return nil
}

func (b *ByteBuffer) GetUint32() (uint32, error) {
	if 4 > b.Remaining() {
		return 0, b.underflow()
	}
	v := binary.LittleEndian.Uint32(b.buf[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *ByteBuffer) PutUint32(v uint32) error {
	if 4 > b.Remaining() {
		return b.overflow()
	}
	binary.LittleEndian.PutUint32(b.buf[b.pos:], v)
	b.pos += 4
	return nil
}

func (b *ByteBuffer) GetUint64() (uint64, error) {
	if 8 > b.Remaining() {
		return 0, b.underflow()
	}
	v := binary.LittleEndian.Uint64(b.buf[b.pos:])
	b.pos += 8
	return v, nil
}

func (b *ByteBuffer) PutUint64(v uint64) error {
	if 8 > b.Remaining() {
		return b.overflow()
	}
	binary.LittleEndian.PutUint64(b.buf[b.pos:], v)
	b.pos += 8
	return nil
}

func (b *ByteBuffer) GetInt32() (int32, error) {
	v, err := b.GetUint32()
	return int32(v), err
}

func (b *ByteBuffer) PutInt32(v int32) error { return b.PutUint32(uint32(v)) }

func (b *ByteBuffer) GetInt64() (int64, error) {
	v, err := b.GetUint64()
	return int64(v), err
}

func (b *ByteBuffer) PutInt64(v int64) error { return b.PutUint64(uint64(v)) }
