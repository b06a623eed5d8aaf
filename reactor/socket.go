package reactor

import (
	"errors"

	"greactor/logging"

	"golang.org/x/sys/unix"
)

// Socket is a thin owned-fd wrapper applying the default socket
// options: TCP_NODELAY and SO_KEEPALIVE on accepted connections;
// SO_REUSEADDR always and SO_REUSEPORT per option on the listening
// socket.
type Socket struct {
	fd int
}

func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

func (s *Socket) Fd() int { return s.fd }

func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func (s *Socket) BindAddress(addr InetAddress) {
	if err := unix.Bind(s.fd, addr.sockaddr()); err != nil {
		logging.Fatalf("[Socket] bind fd=%d failed: %v", s.fd, err)
	}
}

func (s *Socket) Listen() {
	const backlog = 1024
	if err := unix.Listen(s.fd, backlog); err != nil {
		logging.Fatalf("[Socket] listen fd=%d failed: %v", s.fd, err)
	}
}

// Accept accepts one pending connection, returning a non-blocking
// cloexec fd and the peer address.
func (s *Socket) Accept() (int, InetAddress, error) {
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, InetAddress{}, err
	}
	v4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		_ = unix.Close(nfd)
		return -1, InetAddress{}, errors.New("reactor: accepted non-IPv4 peer")
	}
	return nfd, inetAddressFromSockaddr(*v4), nil
}

func (s *Socket) ShutdownWrite() {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		logging.Error("[Socket] shutdown(SHUT_WR) fd=%d: %v", s.fd, err)
	}
}

type optionState int

const (
	optDisable optionState = 0
	optEnable  optionState = 1
)

func (s *Socket) setOption(level, name int, on optionState) {
	if err := unix.SetsockoptInt(s.fd, level, name, int(on)); err != nil {
		logging.Error("[Socket] setsockopt level=%d name=%d fd=%d: %v", level, name, s.fd, err)
	}
}

func (s *Socket) SetTCPNoDelay(on bool) { s.setOption(unix.IPPROTO_TCP, unix.TCP_NODELAY, boolOpt(on)) }
func (s *Socket) SetReuseAddr(on bool)  { s.setOption(unix.SOL_SOCKET, unix.SO_REUSEADDR, boolOpt(on)) }
func (s *Socket) SetReusePort(on bool)  { s.setOption(unix.SOL_SOCKET, unix.SO_REUSEPORT, boolOpt(on)) }
func (s *Socket) SetKeepAlive(on bool)  { s.setOption(unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolOpt(on)) }

func boolOpt(on bool) optionState {
	if on {
		return optEnable
	}
	return optDisable
}

// SocketError retrieves the pending error recorded against the fd via
// SO_ERROR, for use by handleError — it only reports, it never tears
// the connection down itself.
func (s *Socket) SocketError() error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

func createNonblockingSocket() int {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		logging.Fatalf("[Socket] create acceptor socket failed: %v", err)
	}
	return fd
}
