// Command echoclient connects to echoserver, reconnecting with backoff
// on failure or disconnect, and sends a "ping N" message every second while
// logging whatever comes back. It demonstrates the reconnecting client
// side of the streamer package (scenario S2).
package main

import (
	"flag"
	"fmt"
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
	addr := flag.String("addr", "127.0.0.1", "server address")
	port := flag.Int("port", 9273, "server port")
	logPath := flag.String("log", "echoclient.log", "rotating log file path")
	flag.Parse()

	sink, err := lethe.NewWithDefaults(*logPath)
	if err != nil {
		log.Fatalf("echoclient: new log sink: %v", err)
	}
	defer sink.Close()

	logger := logiface.New[*stumpy.Event](stumpy.L.WithStumpy(stumpy.WithWriter(sink)))

	sched, err := reactor.NewScheduler(reactor.SchedulerConfig{Logger: logger})
	if err != nil {
		log.Fatalf("echoclient: new scheduler: %v", err)
	}
	defer sched.Close()

	proto := &pingProtocol{logger: logger}
	dial := func() (int, error) {
		return ioutil.DialTCPNonBlocking(*addr, *port)
	}
	client := streamer.NewConnectingHandler(sched, dial, unix.AF_INET, proto, streamer.Config{}, 1)
	proto.client = client
	client.Start()

	var seq int
	var ticker *reactor.Deferred
	ticker = reactor.NewDeferred(sched, 0, func(*reactor.Deferred) {
		if client.State() == streamer.StateConnected {
			seq++
			msg := fmt.Sprintf("ping %d", seq)
			if err := client.Write([]byte(msg)); err != nil {
				logger.Warning().Err(err).Log(`echoclient: write failed`)
			}
		}
		ticker.CallLater(1000, true)
	})
	ticker.CallLater(1000, true)

	logger.Info().Str(`addr`, *addr).Int(`port`, *port).Log(`echoclient: starting`)
	if err := sched.Run(false); err != nil {
		log.Fatalf("echoclient: %v", err)
	}
}

// pingProtocol logs every echoed reply and every lifecycle transition.
type pingProtocol struct {
	streamer.BaseProtocol
	logger *logiface.Logger[*stumpy.Event]
	client *streamer.ConnectingHandler
}

func (p *pingProtocol) DataReceived(inbuf *bytebuffer.ByteBuffer) {
	streamer.DefaultDataReceived(p, inbuf)
}

func (p *pingProtocol) OnBuffer(inbuf *bytebuffer.ByteBuffer) {
	n, err := inbuf.ReadBytes(inbuf.Remaining())
	if err != nil {
		return
	}
	p.logger.Info().Str(`reply`, string(n)).Log(`echoclient: received`)
}

func (p *pingProtocol) ConnectionMade(h *streamer.StreamHandler) {
	p.logger.Info().Log(`echoclient: connected`)
}

func (p *pingProtocol) ConnectionLost(h *streamer.StreamHandler, err error) {
	p.logger.Warning().Err(err).Log(`echoclient: connection lost`)
}

func (p *pingProtocol) ConnectFailed(h *streamer.ConnectingHandler, err error) {
	p.logger.Warning().Err(err).Log(`echoclient: connect failed`)
}

func (p *pingProtocol) Repr() string { return "pingProtocol" }
