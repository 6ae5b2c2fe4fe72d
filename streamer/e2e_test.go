package streamer

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ggplib/k273/bytebuffer"
	"github.com/ggplib/k273/internal/ioutil"
	"github.com/ggplib/k273/reactor"
)

// echoProtocol echoes whatever it receives back to the peer.
type echoProtocol struct {
	BaseProtocol
	handler  *StreamHandler
	received [][]byte
}

func (p *echoProtocol) DataReceived(inbuf *bytebuffer.ByteBuffer) { DefaultDataReceived(p, inbuf) }

func (p *echoProtocol) OnBuffer(inbuf *bytebuffer.ByteBuffer) {
	if inbuf.Remaining() == 0 {
		return
	}
	data, err := inbuf.ReadBytes(inbuf.Remaining())
	if err != nil {
		return
	}
	cp := append([]byte(nil), data...)
	p.received = append(p.received, cp)
	_ = p.handler.Write(cp)
}

func (p *echoProtocol) ConnectionMade(h *StreamHandler) { p.handler = h }

func (p *echoProtocol) Repr() string { return "echoProtocol" }

type capturingProtocol struct {
	BaseProtocol
	h         *ConnectingHandler
	handler   *StreamHandler
	buf       bytes.Buffer
	connected bool
	failed    []error
}

func (p *capturingProtocol) DataReceived(inbuf *bytebuffer.ByteBuffer) { DefaultDataReceived(p, inbuf) }

func (p *capturingProtocol) OnBuffer(inbuf *bytebuffer.ByteBuffer) {
	if inbuf.Remaining() == 0 {
		return
	}
	data, err := inbuf.ReadBytes(inbuf.Remaining())
	if err != nil {
		return
	}
	p.buf.Write(data)
}

func (p *capturingProtocol) ConnectionMade(h *StreamHandler) {
	p.handler = h
	p.connected = true
}

func (p *capturingProtocol) ConnectFailed(h *ConnectingHandler, err error) {
	p.failed = append(p.failed, err)
}

func (p *capturingProtocol) Repr() string { return "capturingProtocol" }

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// TestEchoServerRoundTrip covers scenario S1: a client connects to a
// listening ServerHandler, writes a message, and observes it echoed back.
func TestEchoServerRoundTrip(t *testing.T) {
	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{DisableInterruptHandler: true})
	require.NoError(t, err)
	defer sched.Close()

	port := freeTCPPort(t)
	listenFD, err := ioutil.ListenTCP("127.0.0.1", port, 16)
	require.NoError(t, err)

	NewServerHandler(sched, listenFD, ServerConfig{
		Family: unix.AF_INET,
		ProtoFactory: func(child *ChildHandler) StreamProtocol {
			return &echoProtocol{}
		},
	})

	require.NoError(t, sched.Run(true))
	_, err = sched.Poll(10)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		_, err := sched.Poll(10)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	var reply []byte
	require.Eventually(t, func() bool {
		_, err := sched.Poll(10)
		require.NoError(t, err)
		buf := make([]byte, 64)
		conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		n, _ := conn.Read(buf)
		if n > 0 {
			reply = append(reply, buf[:n]...)
		}
		return len(reply) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, "hello", string(reply))
}

// TestConnectingHandlerReconnects covers scenarios S2/S3: a ConnectingHandler
// with no listener yet fails and retries with backoff, then succeeds once a
// listener appears.
func TestConnectingHandlerReconnects(t *testing.T) {
	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{DisableInterruptHandler: true})
	require.NoError(t, err)
	defer sched.Close()
	require.NoError(t, sched.Run(true))

	port := freeTCPPort(t)
	proto := &capturingProtocol{}

	dial := func() (int, error) {
		return ioutil.DialTCPNonBlocking("127.0.0.1", port)
	}
	ch := NewConnectingHandler(sched, dial, unix.AF_INET, proto, Config{}, 1)
	proto.h = ch
	ch.Start()

	require.Eventually(t, func() bool {
		_, err := sched.Poll(50)
		require.NoError(t, err)
		return len(proto.failed) >= 1
	}, 3*time.Second, 5*time.Millisecond, "expected at least one failed connect attempt against a closed port")

	listenFD, err := ioutil.ListenTCP("127.0.0.1", port, 16)
	require.NoError(t, err)
	NewServerHandler(sched, listenFD, ServerConfig{
		Family: unix.AF_INET,
		ProtoFactory: func(child *ChildHandler) StreamProtocol {
			return &echoProtocol{}
		},
	})

	require.Eventually(t, func() bool {
		_, err := sched.Poll(50)
		require.NoError(t, err)
		return proto.connected
	}, 5*time.Second, 5*time.Millisecond, "expected the client to eventually connect once a listener exists")

	require.Equal(t, StateConnected, ch.State())
}
