//go:build linux

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// InterruptHandler registers a signalfd(2) descriptor for SIGINT and
// SIGTERM with OP_READ; on fire it drains the signalfd_siginfo and calls
// Scheduler.Shutdown. Only one InterruptHandler may be installed per
// process, since it masks SIGINT/SIGTERM from default handling via
// sigprocmask.
type InterruptHandler struct {
	BaseHandler
	scheduler *Scheduler
	fd        int
	key       *SelectionKey
}

func sigsetAdd(set *unix.Sigset_t, sig int) {
	set.Val[(sig-1)/64] |= 1 << uint((sig-1)%64)
}

func newInterruptHandler(s *Scheduler) (*InterruptHandler, error) {
	var sset unix.Sigset_t
	sigsetAdd(&sset, int(unix.SIGINT))
	sigsetAdd(&sset, int(unix.SIGTERM))

	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &sset, nil); err != nil {
		return nil, newFatalError("pthread_sigmask", err)
	}

	fd, err := unix.Signalfd(-1, &sset, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return nil, newFatalError("signalfd", err)
	}

	ih := &InterruptHandler{scheduler: s, fd: fd}
	key, err := s.RegisterHandler(ih, fd, OpRead)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ih.key = key
	return ih, nil
}

func (ih *InterruptHandler) DoRead(key *SelectionKey) {
	var info unix.SignalfdSiginfo
	buf := (*[unix.SizeofSignalfdSiginfo]byte)(unsafe.Pointer(&info))[:]
	n, err := unix.Read(ih.fd, buf)
	if err != nil || n != unix.SizeofSignalfdSiginfo {
		return
	}
	if ih.scheduler.log != nil {
		ih.scheduler.log.Info().Int(`signal`, int(info.Signo)).Log(`reactor: signal received, shutting down`)
	}
	ih.scheduler.Shutdown()
}

func (ih *InterruptHandler) Repr() string { return "InterruptHandler" }

// Close releases the signalfd and cancels its registration.
func (ih *InterruptHandler) Close() {
	if ih.key != nil {
		ih.key.Cancel()
	}
	unix.Close(ih.fd)
}
