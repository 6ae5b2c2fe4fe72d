package streamer

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ggplib/k273/internal/ioutil"
	"github.com/ggplib/k273/reactor"
)

// ChildProtocolFactory builds the StreamProtocol for one newly accepted
// connection.
type ChildProtocolFactory func(child *ChildHandler) StreamProtocol

// ServerConfig configures a ServerHandler.
type ServerConfig struct {
	Backlog      int
	Family       int
	ClientConfig Config
	ProtoFactory ChildProtocolFactory
}

// ServerHandler owns a listening socket. Its init (listen, non-blocking,
// OP_ACCEPT registration) is deferred one scheduler tick so construction
// order in caller code need not precede the listen call.
type ServerHandler struct {
	reactor.BaseHandler

	scheduler *reactor.Scheduler
	listenFD  int
	cfg       ServerConfig
	key       *reactor.SelectionKey

	init *reactor.Deferred

	mu       sync.Mutex
	children []*ChildHandler
}

// NewServerHandler adopts listenFD (already bound; it may already be
// listening, as ioutil.ListenTCP/ListenUnix sockets are, since init calls
// listen again with cfg.Backlog) and schedules its deferred init.
func NewServerHandler(scheduler *reactor.Scheduler, listenFD int, cfg ServerConfig) *ServerHandler {
	if cfg.Backlog <= 0 {
		cfg.Backlog = 128
	}
	s := &ServerHandler{
		scheduler: scheduler,
		listenFD:  listenFD,
		cfg:       cfg,
	}
	s.init = reactor.NewDeferred(scheduler, 0, s.onInit)
	s.init.CallLater(0, false)
	return s
}

func (s *ServerHandler) onInit(*reactor.Deferred) {
	if err := unix.Listen(s.listenFD, s.cfg.Backlog); err != nil {
		panic(fmt.Sprintf("streamer: listen: %v", err))
	}
	if err := ioutil.SetNonBlocking(s.listenFD); err != nil {
		panic(fmt.Sprintf("streamer: nonblock: %v", err))
	}
	key, err := s.scheduler.RegisterHandler(s, s.listenFD, reactor.OpAccept)
	if err != nil {
		panic(fmt.Sprintf("streamer: register listener: %v", err))
	}
	s.key = key
}

// Children returns a snapshot of the currently connected child handlers.
func (s *ServerHandler) Children() []*ChildHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ChildHandler, len(s.children))
	copy(out, s.children)
	return out
}

func (s *ServerHandler) addChild(c *ChildHandler) {
	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()
}

func (s *ServerHandler) removeChild(c *ChildHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.children {
		if ch == c {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// DoAccept implements reactor.EventHandler: drains the listen backlog,
// instantiating and registering a ChildHandler for each accepted fd until
// Accept reports no pending connection.
func (s *ServerHandler) DoAccept(*reactor.SelectionKey) {
	for {
		fd, err := ioutil.Accept(s.listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			return
		}
		child := &ChildHandler{server: s}
		key, err := s.scheduler.RegisterHandler(child, fd, reactor.OpConnect)
		if err != nil {
			unix.Close(fd)
			continue
		}
		proto := s.cfg.ProtoFactory(child)
		child.StreamHandler = NewStreamHandler(s.scheduler, fd, proto, s.cfg.Family, s.cfg.ClientConfig)
		child.StreamHandler.onDisconnected = child.onDisconnected
		child.StreamHandler.key = key
		s.addChild(child)
		// the kernel reports a freshly accepted socket writable immediately,
		// which DoConnect below treats as an instant CONNECTED transition.
	}
}

func (s *ServerHandler) Repr() string {
	return fmt.Sprintf("ServerHandler{fd=%d, children=%d}", s.listenFD, len(s.children))
}

// ChildHandler is the server-side per-connection variant: registered with
// OP_CONNECT initially (satisfied immediately by the kernel for an already
// accepted socket), it transitions straight to CONNECTED with no backoff;
// on loss it simply removes itself from the owning ServerHandler's
// registry.
type ChildHandler struct {
	*StreamHandler

	server *ServerHandler
}

// DoConnect implements reactor.EventHandler: fires once, immediately, for a
// freshly accepted child socket, completing its transition to CONNECTED.
func (c *ChildHandler) DoConnect(*reactor.SelectionKey) {
	if err := c.StreamHandler.bindConnected(c.StreamHandler.key); err != nil {
		c.StreamHandler.disconnected(err)
	}
}

func (c *ChildHandler) onDisconnected(error) {
	c.server.removeChild(c)
}
