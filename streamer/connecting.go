package streamer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ggplib/k273/internal/ioutil"
	"github.com/ggplib/k273/reactor"
)

// ConnectState is the lifecycle stage of a ConnectingHandler.
type ConnectState int

const (
	StateInitial ConnectState = iota
	StateConnecting
	StateConnected
	StateFailed
	StateLost
)

func (s ConnectState) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	case StateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// ConnectTimeoutMS is how long a non-blocking connect attempt is given to
// complete before it is treated as a failure.
const ConnectTimeoutMS = 1000

// MaxReconnectBackoffSecs is the ceiling the exponential backoff doubles
// toward and then holds at.
const MaxReconnectBackoffSecs = 16

// Dialer creates one non-blocking connect attempt, returning its fd.
// Implementations wrap ioutil.DialTCPNonBlocking / DialUnixNonBlocking.
type Dialer func() (fd int, err error)

// ConnectingHandler is the client-side variant: it owns a Dialer and drives
// INITIAL -> CONNECTING -> CONNECTED/FAILED -> (backoff) -> CONNECTING
// again, reconnecting automatically on both connect failure and later
// connection loss.
type ConnectingHandler struct {
	*StreamHandler

	scheduler *reactor.Scheduler
	dial      Dialer
	family    int
	cfg       Config
	protocol  ConnectingProtocol

	state ConnectState

	connectInitiate *reactor.Deferred
	connectTimeout  *reactor.Deferred
	reconnect       *reactor.Deferred

	resetReconnectingSecs int64
	reconnectingSecs      int64
	backoffStarted        bool
}

// ConnectingProtocol extends StreamProtocol with the client-side lifecycle
// notifications a reconnecting client cares about beyond plain
// connection_made/connection_lost.
type ConnectingProtocol interface {
	StreamProtocol
	ConnectFailed(h *ConnectingHandler, err error)
}

// NewConnectingHandler builds a ConnectingHandler that dials via dial and
// hands accepted traffic to protocol. initialBackoffSecs defaults to 1 when
// <= 0.
func NewConnectingHandler(scheduler *reactor.Scheduler, dial Dialer, family int, protocol ConnectingProtocol, cfg Config, initialBackoffSecs int64) *ConnectingHandler {
	if initialBackoffSecs <= 0 {
		initialBackoffSecs = 1
	}
	c := &ConnectingHandler{
		scheduler:             scheduler,
		dial:                  dial,
		family:                family,
		cfg:                   cfg,
		protocol:              protocol,
		state:                 StateInitial,
		resetReconnectingSecs: initialBackoffSecs,
		reconnectingSecs:      initialBackoffSecs,
	}
	c.StreamHandler = NewStreamHandler(scheduler, -1, protocol, family, cfg)
	c.StreamHandler.onDisconnected = c.onLost
	c.connectInitiate = reactor.NewDeferred(scheduler, 0, c.onConnectInitiate)
	c.connectTimeout = reactor.NewDeferred(scheduler, 0, c.onConnectTimeout)
	c.reconnect = reactor.NewDeferred(scheduler, 0, c.onReconnect)
	return c
}

// Start queues the first connect attempt onto the next scheduler tick.
func (c *ConnectingHandler) Start() {
	c.connectInitiate.CallLater(0, false)
}

// State returns the handler's current lifecycle state.
func (c *ConnectingHandler) State() ConnectState { return c.state }

func (c *ConnectingHandler) onConnectInitiate(*reactor.Deferred) {
	c.attemptConnect()
}

func (c *ConnectingHandler) onReconnect(*reactor.Deferred) {
	c.attemptConnect()
}

func (c *ConnectingHandler) attemptConnect() {
	fd, err := c.dial()
	if err != nil {
		c.fail(fmt.Errorf("streamer: dial: %w", err))
		return
	}
	c.fd = fd
	c.state = StateConnecting
	key, err := c.scheduler.RegisterHandler(c, fd, reactor.OpConnect)
	if err != nil {
		unix.Close(fd)
		c.fail(fmt.Errorf("streamer: register: %w", err))
		return
	}
	c.key = key
	c.connectTimeout.CallLater(ConnectTimeoutMS, true)
}

// DoConnect implements reactor.EventHandler: fires when the non-blocking
// connect attempt's fd becomes writable, signalling completion.
func (c *ConnectingHandler) DoConnect(*reactor.SelectionKey) {
	c.connectTimeout.Cancel()
	if err := ioutil.ConnectResult(c.fd); err != nil {
		c.key.Cancel()
		unix.Close(c.fd)
		c.fail(fmt.Errorf("streamer: connect: %w", err))
		return
	}
	c.state = StateConnected
	c.reconnectingSecs = c.resetReconnectingSecs
	c.backoffStarted = false
	if err := c.StreamHandler.bindConnected(c.key); err != nil {
		c.fail(err)
	}
}

func (c *ConnectingHandler) onConnectTimeout(*reactor.Deferred) {
	if c.key != nil {
		c.key.Cancel()
	}
	if c.fd >= 0 {
		unix.Close(c.fd)
	}
	c.fail(errors.New("streamer: connect timed out"))
}

func (c *ConnectingHandler) fail(err error) {
	c.state = StateFailed
	c.protocol.ConnectFailed(c, err)
	c.scheduleRetry()
}

// onLost is wired as StreamHandler.onDisconnected: a connection that was
// CONNECTED and then dropped re-enters the same backoff retry path as a
// failed connect attempt.
func (c *ConnectingHandler) onLost(error) {
	c.state = StateLost
	c.scheduleRetry()
}

// scheduleRetry arms the next connect attempt after the current backoff
// delay, then grows the delay for the attempt after that: the first call
// since a reset uses reconnectingSecs unchanged (the initial backoff), and
// every call after doubles it, capped at MaxReconnectBackoffSecs, giving
// the sequence initial, 2x, 4x, 8x, ... cap, cap, ...
func (c *ConnectingHandler) scheduleRetry() {
	if c.backoffStarted {
		c.reconnectingSecs *= 2
		if c.reconnectingSecs > MaxReconnectBackoffSecs {
			c.reconnectingSecs = MaxReconnectBackoffSecs
		}
	}
	c.backoffStarted = true
	c.reconnect.CallLater(c.reconnectingSecs*1000, true)
}
