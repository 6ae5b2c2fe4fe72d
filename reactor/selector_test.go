package reactor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPipe(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return r, w
}

func TestSelector_RegisterAndPollReadiness(t *testing.T) {
	sel, err := NewSelector(Config{})
	require.NoError(t, err)
	defer sel.Close()

	r, w := newPipe(t)
	key, err := sel.Register(int(r.Fd()), OpRead, "marker")
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Equal(t, "marker", key.UserData())

	n, err := sel.Poll(10)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	n, err = sel.Poll(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	ready := sel.ReadyKeys()
	require.Len(t, ready, 1)
	require.True(t, ready[0].ReadyOps().has(OpRead))
}

func TestSelector_CancelIsDeferred(t *testing.T) {
	sel, err := NewSelector(Config{})
	require.NoError(t, err)
	defer sel.Close()

	r, _ := newPipe(t)
	key, err := sel.Register(int(r.Fd()), OpRead, nil)
	require.NoError(t, err)

	key.Cancel()
	require.True(t, key.Cancelled())
	require.Equal(t, 1, sel.NumberKeys(), "teardown deferred to next poll")

	_, err = sel.Poll(10)
	require.NoError(t, err)
	require.Zero(t, sel.NumberKeys(), "compaction reaps cancelled keys at next poll")

	// idempotent
	key.Cancel()
}

func TestSelector_CapacityExhausted(t *testing.T) {
	sel, err := NewSelector(Config{MaxRegistrations: 1})
	require.NoError(t, err)
	defer sel.Close()

	r1, _ := newPipe(t)
	r2, _ := newPipe(t)

	_, err = sel.Register(int(r1.Fd()), OpRead, nil)
	require.NoError(t, err)

	_, err = sel.Register(int(r2.Fd()), OpRead, nil)
	require.ErrorIs(t, err, ErrCapacityExhausted)
}

func TestSelector_SetOpsRequiresNonZero(t *testing.T) {
	sel, err := NewSelector(Config{})
	require.NoError(t, err)
	defer sel.Close()

	r, _ := newPipe(t)
	key, err := sel.Register(int(r.Fd()), OpRead, nil)
	require.NoError(t, err)

	require.ErrorIs(t, key.SetOps(0), ErrInvalidOps)
}
