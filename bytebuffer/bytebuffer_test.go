package bytebuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFlipCompactLaw covers property 9: flip;compact after reading r<=remaining
// bytes leaves pos=original_remaining-r, limit=capacity.
func TestFlipCompactLaw(t *testing.T) {
	b := New(64)
	require.NoError(t, b.PutUint32(1))
	require.NoError(t, b.PutUint32(2))
	require.NoError(t, b.PutUint32(3))

	b.Flip()
	originalRemaining := b.Remaining()
	require.Equal(t, 12, originalRemaining)

	r := 4
	_, err := b.GetUint32()
	require.NoError(t, err)

	b.Compact()
	require.Equal(t, originalRemaining-r, b.Pos())
	require.Equal(t, b.Capacity(), b.Limit())
}

func TestCompactNoRemainingIsClear(t *testing.T) {
	b := New(16)
	require.NoError(t, b.PutUint8(7))
	b.Flip()
	_, err := b.GetUint8()
	require.NoError(t, err)
	require.Zero(t, b.Remaining())

	b.Compact()
	require.Zero(t, b.Pos())
	require.Equal(t, b.Capacity(), b.Limit())
}

func TestUnderflowOverflow(t *testing.T) {
	b := New(4)
	require.NoError(t, b.PutUint32(42))
	require.ErrorIs(t, b.PutUint8(1), ErrOverflow)

	b.Flip()
	_, err := b.GetUint64()
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestMarkResetFromMark(t *testing.T) {
	b := New(16)
	require.NoError(t, b.PutUint32(1))
	b.Mark()
	require.NoError(t, b.PutUint32(2))
	b.ResetFromMark()
	require.Equal(t, 4, b.Pos())
}

func TestWrapDoesNotOwnBacking(t *testing.T) {
	backing := make([]byte, 8)
	b := Wrap(backing)
	require.NoError(t, b.PutUint32(0xdeadbeef))
	require.NotZero(t, backing[0])
}

func TestPutStringNullPads(t *testing.T) {
	b := New(16)
	require.NoError(t, b.PutString("hi", -1))
	b.Flip()
	s, err := b.GetString(3)
	require.NoError(t, err)
	require.Equal(t, "hi\x00", s)
}
