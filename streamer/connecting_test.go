package streamer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ggplib/k273/bytebuffer"
	"github.com/ggplib/k273/reactor"
)

type stubConnectingProtocol struct {
	BaseProtocol
	connectedCount int
	failed         []error
}

func (p *stubConnectingProtocol) DataReceived(inbuf *bytebuffer.ByteBuffer) {
	DefaultDataReceived(p, inbuf)
}

func (p *stubConnectingProtocol) ConnectionMade(*StreamHandler) { p.connectedCount++ }

func (p *stubConnectingProtocol) ConnectFailed(h *ConnectingHandler, err error) {
	p.failed = append(p.failed, err)
}

// TestConnectingHandler_BackoffDoublesOnRepeatedFailure covers the
// exponential backoff edge case: consecutive dial failures double the
// retry interval up to the cap, never exceeding it.
func TestConnectingHandler_BackoffDoublesOnRepeatedFailure(t *testing.T) {
	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{DisableInterruptHandler: true})
	require.NoError(t, err)
	defer sched.Close()
	require.NoError(t, sched.Run(true))

	proto := &stubConnectingProtocol{}
	dial := func() (int, error) { return -1, errors.New("refused") }
	ch := NewConnectingHandler(sched, dial, unix.AF_INET, proto, Config{}, 1)
	ch.Start()

	_, err = sched.Poll(10)
	require.NoError(t, err)
	require.Equal(t, StateFailed, ch.State())
	require.Len(t, proto.failed, 1)
	require.EqualValues(t, 1, ch.reconnectingSecs, "the first retry uses the initial backoff, unchanged")

	// Subsequent failures double the delay: 1, 2, 4, 8, 16, 16, ...
	for _, want := range []int64{2, 4, 8, 16, 16} {
		ch.scheduleRetry()
		require.EqualValues(t, want, ch.reconnectingSecs)
	}
}

// TestConnectingHandler_ResetsBackoffOnSuccess covers the state-machine
// transition INITIAL -> CONNECTING -> CONNECTED, resetting the backoff to
// its initial value.
func TestConnectingHandler_ResetsBackoffOnSuccess(t *testing.T) {
	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{DisableInterruptHandler: true})
	require.NoError(t, err)
	defer sched.Close()
	require.NoError(t, sched.Run(true))

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	proto := &stubConnectingProtocol{}
	used := false
	dial := func() (int, error) {
		if used {
			return -1, errors.New("only one attempt expected in this test")
		}
		used = true
		return fds[0], nil
	}
	ch := NewConnectingHandler(sched, dial, unix.AF_UNIX, proto, Config{}, 3)
	ch.reconnectingSecs = 9
	ch.Start()

	require.Eventually(t, func() bool {
		_, err := sched.Poll(10)
		require.NoError(t, err)
		return ch.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, proto.connectedCount)
	require.EqualValues(t, 3, ch.reconnectingSecs)
}
