// Command echoserver accepts TCP connections and echoes back whatever
// bytes each client sends, demonstrating the accepting-server side of
// the streamer package (scenarios S1 and S3).
package main

import (
	"flag"
	"log"

	"github.com/agilira/lethe"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/ggplib/k273/bytebuffer"
	"github.com/ggplib/k273/internal/ioutil"
	"github.com/ggplib/k273/reactor"
	"github.com/ggplib/k273/streamer"
	"golang.org/x/sys/unix"
)

func main() {
	addr := flag.String("addr", "127.0.0.1", "listen address")
	port := flag.Int("port", 9273, "listen port")
	logPath := flag.String("log", "echoserver.log", "rotating log file path")
	flag.Parse()

	sink, err := lethe.NewWithDefaults(*logPath)
	if err != nil {
		log.Fatalf("echoserver: new log sink: %v", err)
	}
	defer sink.Close()

	logger := logiface.New[*stumpy.Event](stumpy.L.WithStumpy(stumpy.WithWriter(sink)))

	listenFD, err := ioutil.ListenTCP(*addr, *port, 128)
	if err != nil {
		log.Fatalf("echoserver: %v", err)
	}

	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{Logger: logger})
	if err != nil {
		log.Fatalf("echoserver: new scheduler: %v", err)
	}
	defer sched.Close()

	streamer.NewServerHandler(sched, listenFD, streamer.ServerConfig{
		Family: unix.AF_INET,
		ProtoFactory: func(child *streamer.ChildHandler) streamer.StreamProtocol {
			return &echoProtocol{logger: logger}
		},
	})

	logger.Info().Int(`port`, *port).Log(`echoserver: listening`)
	if err := sched.Run(false); err != nil {
		log.Fatalf("echoserver: %v", err)
	}
}

// echoProtocol writes back every byte it receives.
type echoProtocol struct {
	streamer.BaseProtocol
	logger *logiface.Logger[*stumpy.Event]
	h      *streamer.StreamHandler
}

func (p *echoProtocol) DataReceived(inbuf *bytebuffer.ByteBuffer) {
	streamer.DefaultDataReceived(p, inbuf)
}

func (p *echoProtocol) OnBuffer(inbuf *bytebuffer.ByteBuffer) {
	n, err := inbuf.ReadBytes(inbuf.Remaining())
	if err != nil {
		return
	}
	if h := p.handler(); h != nil {
		if err := h.Write(n); err != nil {
			p.logger.Warning().Err(err).Log(`echoserver: write failed`)
		}
	}
}

func (p *echoProtocol) ConnectionMade(h *streamer.StreamHandler) {
	p.h = h
	p.logger.Info().Str(`peer`, h.Repr()).Log(`echoserver: connection made`)
}

func (p *echoProtocol) ConnectionLost(h *streamer.StreamHandler, err error) {
	p.logger.Info().Err(err).Log(`echoserver: connection lost`)
}

func (p *echoProtocol) Repr() string { return "echoProtocol" }

func (p *echoProtocol) handler() *streamer.StreamHandler { return p.h }
