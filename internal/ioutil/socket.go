// Package ioutil provides the raw, non-blocking socket construction and
// tuning helpers the streamer package's handlers build on: bare file
// descriptors registrable directly with a reactor.Selector, rather than
// net.Conn/net.Listener, which do not expose a poll-able fd the way this
// reactor's single-threaded dispatch model requires.
package ioutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// SetNonBlocking puts fd into O_NONBLOCK mode. Every socket handed to a
// StreamHandler must pass through this first.
func SetNonBlocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// SetTCPNoDelay disables Nagle's algorithm on a TCP socket.
func SetTCPNoDelay(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// SetMaxReceiveBuffer sets SO_RCVBUF.
func SetMaxReceiveBuffer(fd int, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

// SetMaxSendBuffer sets SO_SNDBUF.
func SetMaxSendBuffer(fd int, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

// SendFlags returns the default sendto(2) flags for a socket of the given
// family; Unix-domain sockets default to MSG_NOSIGNAL to suppress SIGPIPE
// on a broken pipe, matching the original ConnectedSocket's
// default_send_flags for Unix peers.
func SendFlags(family int) int {
	if family == unix.AF_UNIX {
		return unix.MSG_NOSIGNAL
	}
	return 0
}

// ListenTCP creates a non-blocking, listening IPv4 TCP socket bound to
// addr:port, returning its raw file descriptor.
func ListenTCP(addr string, port int, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("ioutil: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: SO_REUSEADDR: %w", err)
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: invalid ipv4 address %q", addr)
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip.To4())
	sa.Port = port
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: listen: %w", err)
	}
	if err := SetNonBlocking(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: nonblock: %w", err)
	}
	return fd, nil
}

// ListenUnix creates a non-blocking, listening Unix-domain stream socket at
// path, unlinking any stale path first, matching the original
// UnixAcceptingSocket's creation sequence.
func ListenUnix(path string, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("ioutil: socket: %w", err)
	}
	unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: listen: %w", err)
	}
	if err := SetNonBlocking(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: nonblock: %w", err)
	}
	return fd, nil
}

// DialTCPNonBlocking creates a non-blocking TCP socket and issues a
// non-blocking connect to addr:port. The caller must watch the fd for
// OP_CONNECT and complete the handshake with ConnectResult.
func DialTCPNonBlocking(addr string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("ioutil: socket: %w", err)
	}
	if err := SetNonBlocking(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: nonblock: %w", err)
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: invalid ipv4 address %q", addr)
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip.To4())
	sa.Port = port
	err = unix.Connect(fd, &sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: connect: %w", err)
	}
	return fd, nil
}

// DialUnixNonBlocking creates a non-blocking Unix-domain socket and issues
// a non-blocking connect to path.
func DialUnixNonBlocking(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("ioutil: socket: %w", err)
	}
	if err := SetNonBlocking(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: nonblock: %w", err)
	}
	err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("ioutil: connect: %w", err)
	}
	return fd, nil
}

// ConnectResult inspects SO_ERROR after OP_CONNECT readiness to determine
// whether the non-blocking connect succeeded.
func ConnectResult(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("ioutil: SO_ERROR: %w", err)
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// Send writes buf to fd with the given sendmsg(2) flags (e.g. MSG_NOSIGNAL),
// returning the number of bytes actually accepted by the kernel so short
// writes can be detected; plain unix.Send discards this count.
func Send(fd int, buf []byte, flags int) (int, error) {
	return unix.SendmsgN(fd, buf, nil, nil, flags)
}

// Accept wraps accept4(2) with SOCK_NONBLOCK, returning (-1, unix.EAGAIN)
// when there is no pending connection (callers loop until this).
func Accept(listenFD int) (int, error) {
	fd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, err
	}
	return fd, nil
}
