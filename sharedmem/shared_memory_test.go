package sharedmem

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("k273-test-%d-%s", os.Getpid(), t.Name())
}

// TestSharedMemory_CreateAttachRoundTrip covers create/attach round
// tripping: bytes written by a creator through Bytes() are visible to an
// independent Attach of the same name, and only the creator reports
// ownership.
func TestSharedMemory_CreateAttachRoundTrip(t *testing.T) {
	name := testName(t)

	owner, err := Create(name, 4096)
	require.NoError(t, err)
	defer owner.Close()

	copy(owner.Bytes(), []byte("hello shared memory"))

	attached, err := Attach(name, 4096)
	require.NoError(t, err)
	defer attached.Close()

	require.Equal(t, "hello shared memory", string(attached.Bytes()[:len("hello shared memory")]))
	require.False(t, attached.Owns())
	require.True(t, owner.Owns())
	require.Equal(t, 4096, owner.Size())
}

// TestSharedMemory_CreateRecreatesExistingName covers the edge case where
// a stale region from a previous run under the same name still exists:
// Create must unlink and recreate it rather than erroring or reusing
// stale contents.
func TestSharedMemory_CreateRecreatesExistingName(t *testing.T) {
	name := testName(t)

	first, err := Create(name, 64)
	require.NoError(t, err)
	copy(first.Bytes(), []byte("stale"))

	second, err := Create(name, 64)
	require.NoError(t, err)
	defer second.Close()

	for _, b := range second.Bytes()[:5] {
		require.NotEqual(t, byte('s'), b)
	}
	require.NoError(t, first.Close())
}
