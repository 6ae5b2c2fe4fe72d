//go:build !linux

package reactor

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// InterruptHandler is the non-Linux substitute for signalfd: a self-pipe
// whose read end is registered with the selector under OP_READ, fed by a
// goroutine that receives os/signal notifications for SIGINT/SIGTERM and
// writes one byte per signal. Only one InterruptHandler may be installed
// per process (os/signal.Notify would otherwise compete for the same
// signals).
type InterruptHandler struct {
	BaseHandler
	scheduler *Scheduler
	read      *os.File
	write     *os.File
	signals   chan os.Signal
	key       *SelectionKey
}

func newInterruptHandler(s *Scheduler) (*InterruptHandler, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, newFatalError("pipe", err)
	}
	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		r.Close()
		w.Close()
		return nil, newFatalError("fcntl", err)
	}

	ih := &InterruptHandler{
		scheduler: s,
		read:      r,
		write:     w,
		signals:   make(chan os.Signal, 1),
	}
	signal.Notify(ih.signals, syscall.SIGINT, syscall.SIGTERM)
	go ih.pump()

	key, err := s.RegisterHandler(ih, int(r.Fd()), OpRead)
	if err != nil {
		signal.Stop(ih.signals)
		r.Close()
		w.Close()
		return nil, err
	}
	ih.key = key
	return ih, nil
}

func (ih *InterruptHandler) pump() {
	for range ih.signals {
		if _, err := ih.write.Write([]byte{1}); err != nil {
			return
		}
	}
}

func (ih *InterruptHandler) DoRead(key *SelectionKey) {
	var buf [64]byte
	if _, err := ih.read.Read(buf[:]); err != nil {
		return
	}
	if ih.scheduler.log != nil {
		ih.scheduler.log.Info().Log(`reactor: signal received, shutting down`)
	}
	ih.scheduler.Shutdown()
}

func (ih *InterruptHandler) Repr() string { return "InterruptHandler" }

// Close stops signal delivery and releases the self-pipe.
func (ih *InterruptHandler) Close() {
	signal.Stop(ih.signals)
	close(ih.signals)
	if ih.key != nil {
		ih.key.Cancel()
	}
	ih.read.Close()
	ih.write.Close()
}
