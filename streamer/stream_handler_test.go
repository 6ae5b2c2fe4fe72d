package streamer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ggplib/k273/bytebuffer"
	"github.com/ggplib/k273/internal/ioutil"
	"github.com/ggplib/k273/reactor"
)

type recordingProtocol struct {
	BaseProtocol
	buf       []byte
	madeCount int
	lostErr   error
	lostCount int
	handler   *StreamHandler
}

func (p *recordingProtocol) DataReceived(inbuf *bytebuffer.ByteBuffer) { DefaultDataReceived(p, inbuf) }

func (p *recordingProtocol) OnBuffer(inbuf *bytebuffer.ByteBuffer) {
	n, err := inbuf.ReadBytes(inbuf.Remaining())
	if err == nil {
		p.buf = append(p.buf, n...)
	}
}

func (p *recordingProtocol) ConnectionMade(h *StreamHandler) {
	p.madeCount++
	p.handler = h
}

func (p *recordingProtocol) ConnectionLost(h *StreamHandler, err error) {
	p.lostCount++
	p.lostErr = err
}

func newConnectedPair(t *testing.T, sched *reactor.Scheduler) (*StreamHandler, *recordingProtocol, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, ioutil.SetNonBlocking(fds[0]))
	require.NoError(t, ioutil.SetNonBlocking(fds[1]))

	proto := &recordingProtocol{}
	h := NewStreamHandler(sched, fds[0], proto, unix.AF_UNIX, Config{})
	key, err := sched.RegisterHandler(h, fds[0], reactor.OpConnect)
	require.NoError(t, err)
	require.NoError(t, h.bindConnected(key))
	return h, proto, fds[1]
}

// TestStreamHandler_WriteAndRead covers property 4: a StreamHandler's Write
// reaches the peer and its DoRead dispatches the bytes through the
// protocol's DataReceived/OnBuffer pair.
func TestStreamHandler_WriteAndRead(t *testing.T) {
	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{DisableInterruptHandler: true})
	require.NoError(t, err)
	defer sched.Close()
	require.NoError(t, sched.Run(true))

	h, proto, peerFD := newConnectedPair(t, sched)
	defer unix.Close(peerFD)

	require.NoError(t, h.Write([]byte("ping")))

	buf := make([]byte, 16)
	n, err := unix.Read(peerFD, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	_, err = unix.Write(peerFD, []byte("pong"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := sched.Poll(10)
		require.NoError(t, err)
		return len(proto.buf) == 4
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, "pong", string(proto.buf))
	require.Equal(t, 1, proto.madeCount)
}

// TestStreamHandler_ShortWriteArmsOpWrite covers property 4: a write larger
// than the OS buffer leaves writeWaitingForOS true and OP_WRITE armed until
// DoWrite drains it.
func TestStreamHandler_ShortWriteArmsOpWrite(t *testing.T) {
	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{DisableInterruptHandler: true})
	require.NoError(t, err)
	defer sched.Close()
	require.NoError(t, sched.Run(true))

	h, _, peerFD := newConnectedPair(t, sched)
	defer unix.Close(peerFD)

	require.NoError(t, ioutil.SetMaxSendBuffer(h.Fd(), 4096))

	big := make([]byte, 8*1024*1024)
	for i := range big {
		big[i] = byte(i)
	}

	err = h.Write(big)
	require.NoError(t, err)
	require.True(t, h.writeWaitingForOS)
	require.NotZero(t, h.key.Ops()&reactor.OpWrite)

	drained := make([]byte, 0, len(big))
	buf := make([]byte, 65536)
	require.Eventually(t, func() bool {
		_, err := sched.Poll(10)
		require.NoError(t, err)
		for {
			n, err := unix.Read(peerFD, buf)
			if err != nil {
				break
			}
			drained = append(drained, buf[:n]...)
		}
		return len(drained) == len(big)
	}, 5*time.Second, 5*time.Millisecond)

	require.False(t, h.writeWaitingForOS)
}

// TestStreamHandler_ReadTimeoutDisconnects covers the read-timeout edge
// case: no traffic within the configured window triggers disconnected().
func TestStreamHandler_ReadTimeoutDisconnects(t *testing.T) {
	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{DisableInterruptHandler: true})
	require.NoError(t, err)
	defer sched.Close()
	require.NoError(t, sched.Run(true))

	h, proto, peerFD := newConnectedPair(t, sched)
	defer unix.Close(peerFD)
	h.readTimeoutMS = 20
	h.readTimeout.CallLater(20, true)

	require.Eventually(t, func() bool {
		_, err := sched.Poll(10)
		require.NoError(t, err)
		return proto.lostCount == 1
	}, time.Second, 5*time.Millisecond)

	require.False(t, h.Connected())
}
