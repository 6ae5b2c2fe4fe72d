package streamer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ggplib/k273/bytebuffer"
	"github.com/ggplib/k273/internal/ioutil"
	"github.com/ggplib/k273/reactor"
)

// DefaultInboundCapacity and DefaultOutboundCapacity size a StreamHandler's
// buffers when its Config leaves them at zero.
const (
	DefaultInboundCapacity  = 64 * 1024
	DefaultOutboundCapacity = 64 * 1024
)

// MinReadTimeoutRearmMS is the minimum interval between successive re-arms
// of the read-timeout Deferred, avoiding a reschedule on every single read
// when traffic is frequent.
const MinReadTimeoutRearmMS = 500

// ErrDisconnected is reported to Write after the handler has disconnected.
var ErrDisconnected = errors.New("streamer: handler disconnected")

// Config carries the tunables shared by every StreamHandler variant.
type Config struct {
	InboundCapacity  int
	OutboundCapacity int
	SendFlags        int
}

func (c Config) withDefaults(family int) Config {
	if c.InboundCapacity <= 0 {
		c.InboundCapacity = DefaultInboundCapacity
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = DefaultOutboundCapacity
	}
	if c.SendFlags == 0 {
		c.SendFlags = ioutil.SendFlags(family)
	}
	return c
}

// StreamHandler is the transport layer shared by every connected socket
// variant: a non-blocking fd, an inbound and an outbound ByteBuffer, write
// back-pressure tracked by writeWaitingForOS (kept in lockstep with the
// key's OP_WRITE bit), and an optional read-timeout Deferred.
type StreamHandler struct {
	reactor.BaseHandler

	scheduler *reactor.Scheduler
	protocol  StreamProtocol
	key       *reactor.SelectionKey
	fd        int
	cfg       Config

	inbuf  *bytebuffer.ByteBuffer
	outbuf *bytebuffer.ByteBuffer

	writeWaitingForOS bool
	connected         bool

	readTimeoutMS        int64
	readTimeout          *reactor.Deferred
	lastReadTimeoutArmMS int64

	// variant hooks, set by ConnectingHandler/ChildHandler.
	onDisconnected func(err error)
}

// NewStreamHandler wires fd (already non-blocking) to the scheduler and
// protocol, allocating its buffers per cfg.
func NewStreamHandler(scheduler *reactor.Scheduler, fd int, protocol StreamProtocol, family int, cfg Config) *StreamHandler {
	cfg = cfg.withDefaults(family)
	h := &StreamHandler{
		scheduler: scheduler,
		protocol:  protocol,
		fd:        fd,
		cfg:       cfg,
		inbuf:     bytebuffer.New(cfg.InboundCapacity),
		outbuf:    bytebuffer.New(cfg.OutboundCapacity),
	}
	h.readTimeout = reactor.NewDeferred(scheduler, 0, h.onReadTimeout)
	return h
}

// Fd returns the handler's socket descriptor.
func (h *StreamHandler) Fd() int { return h.fd }

// Key returns the SelectionKey this handler is registered under, or nil
// before registration.
func (h *StreamHandler) Key() *reactor.SelectionKey { return h.key }

// bindConnected is called by a variant once its socket has become usable
// for read/write (connect completed, or a child accepted): it records the
// key, switches interest to OP_READ, arms the read timeout if configured,
// and notifies the protocol.
func (h *StreamHandler) bindConnected(key *reactor.SelectionKey) error {
	h.key = key
	h.connected = true
	if err := key.SetOps(reactor.OpRead); err != nil {
		return err
	}
	if h.readTimeoutMS > 0 {
		h.armReadTimeout()
	}
	h.protocol.ConnectionMade(h)
	return nil
}

// armReadTimeout (re)schedules the read-timeout Deferred, but skips the
// reschedule if the last arm happened less than MinReadTimeoutRearmMS ago,
// so a stream reading frequently doesn't churn the timer heap on every
// single read.
func (h *StreamHandler) armReadTimeout() {
	now := h.scheduler.NowMS()
	if now-h.lastReadTimeoutArmMS < MinReadTimeoutRearmMS {
		return
	}
	h.lastReadTimeoutArmMS = now
	h.readTimeout.CallLater(h.readTimeoutMS, true)
}

// Protocol returns the attached StreamProtocol.
func (h *StreamHandler) Protocol() StreamProtocol { return h.protocol }

// Connected reports whether the handler currently owns a usable,
// not-yet-disconnected socket.
func (h *StreamHandler) Connected() bool { return h.connected }

func (h *StreamHandler) Repr() string {
	return fmt.Sprintf("StreamHandler{fd=%d, protocol=%s}", h.fd, h.protocol.Repr())
}

// Write sends bytes to the peer. If the OS send buffer has room the bytes
// go out immediately; a short write appends the remainder to the outbound
// buffer and arms OP_WRITE. If a drain is already in progress (
// writeWaitingForOS), bytes are appended directly without attempting a
// send, preserving order.
func (h *StreamHandler) Write(data []byte) error {
	if !h.connected {
		return ErrDisconnected
	}
	if h.writeWaitingForOS {
		return h.appendOutbound(data)
	}
	n, err := ioutil.Send(h.fd, data, h.cfg.SendFlags)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return h.enqueueAndArm(data)
		}
		h.disconnected(newSocketError("send", err))
		return newSocketError("send", err)
	}
	if n < len(data) {
		return h.enqueueAndArm(data[n:])
	}
	return nil
}

func (h *StreamHandler) appendOutbound(data []byte) error {
	if err := h.outbuf.WriteBytes(data); err != nil {
		return fmt.Errorf("streamer: outbound buffer full: %w", err)
	}
	return nil
}

func (h *StreamHandler) enqueueAndArm(remainder []byte) error {
	if err := h.appendOutbound(remainder); err != nil {
		return err
	}
	h.writeWaitingForOS = true
	return h.key.SetOps(reactor.OpRead | reactor.OpWrite)
}

// SetReadTimeout arms (secs > 0) or disarms (secs == 0) the read-timeout
// Deferred. Each successful DoRead re-arms it, subject to
// MinReadTimeoutRearmMS debouncing.
func (h *StreamHandler) SetReadTimeout(secs int) {
	if secs <= 0 {
		h.readTimeoutMS = 0
		h.readTimeout.Cancel()
		return
	}
	h.readTimeoutMS = int64(secs) * 1000
	h.armReadTimeout()
}

func (h *StreamHandler) onReadTimeout(*reactor.Deferred) {
	h.disconnected(fmt.Errorf("streamer: read timeout on fd %d", h.fd))
}

// Disconnect shuts the socket down in both directions and then runs
// disconnected() at once, within this call: the fd is closed, the key
// cancelled and the protocol's ConnectionLost invoked before it returns.
func (h *StreamHandler) Disconnect() {
	if !h.connected {
		return
	}
	unix.Shutdown(h.fd, unix.SHUT_RDWR)
	h.disconnected(nil)
}

// disconnected tears the handler down: cancels the key, closes the fd,
// disarms the read timeout, and notifies the protocol and variant hook.
// Idempotent.
func (h *StreamHandler) disconnected(err error) {
	if !h.connected {
		return
	}
	h.connected = false
	h.readTimeout.Cancel()
	if h.key != nil {
		h.key.Cancel()
	}
	unix.Close(h.fd)
	h.protocol.ConnectionLost(h, err)
	if h.onDisconnected != nil {
		h.onDisconnected(err)
	}
}

// DoRead implements reactor.EventHandler: read up to inbuf.Remaining bytes;
// zero bytes or a socket error disconnects, otherwise the protocol's
// DataReceived is invoked over the freshly appended region.
func (h *StreamHandler) DoRead(*reactor.SelectionKey) {
	buf := h.inbuf.InternalBuf(0)
	if len(buf) == 0 {
		return
	}
	n, err := unix.Read(h.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		h.disconnected(newSocketError("read", err))
		return
	}
	if n == 0 {
		h.disconnected(nil)
		return
	}
	if err := h.inbuf.Skip(n); err != nil {
		h.disconnected(err)
		return
	}
	if h.readTimeoutMS > 0 {
		h.armReadTimeout()
	}
	h.protocol.DataReceived(h.inbuf)
}

// DoWrite implements reactor.EventHandler: drains the outbound buffer built
// up while writeWaitingForOS was true. Asserts writeWaitingForOS on entry,
// per the transport's write/doWrite pairing invariant.
func (h *StreamHandler) DoWrite(*reactor.SelectionKey) {
	if !h.writeWaitingForOS {
		panic("streamer: DoWrite fired without writeWaitingForOS")
	}
	h.writeWaitingForOS = false
	if err := h.key.SetOps(reactor.OpRead); err != nil && !errors.Is(err, reactor.ErrSelectorClosed) {
		h.disconnected(err)
		return
	}
	h.outbuf.Flip()
	if h.outbuf.Remaining() == 0 {
		h.outbuf.Clear()
		return
	}
	n, err := ioutil.Send(h.fd, h.outbuf.InternalBuf(0)[:h.outbuf.Remaining()], h.cfg.SendFlags)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			h.outbuf.Compact()
			h.rearmWrite()
			return
		}
		h.disconnected(newSocketError("send", err))
		return
	}
	if err := h.outbuf.Skip(n); err != nil {
		h.disconnected(err)
		return
	}
	if h.outbuf.Remaining() > 0 {
		h.outbuf.Compact()
		h.rearmWrite()
		return
	}
	h.outbuf.Clear()
}

func (h *StreamHandler) rearmWrite() {
	h.writeWaitingForOS = true
	if err := h.key.SetOps(reactor.OpRead | reactor.OpWrite); err != nil {
		h.disconnected(err)
	}
}

func newSocketError(op string, err error) error {
	return fmt.Errorf("streamer: %s: %w", op, err)
}
