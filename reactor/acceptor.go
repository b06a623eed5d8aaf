package reactor

import (
	"greactor/logging"

	"golang.org/x/sys/unix"
)

// Acceptor owns the listening socket on the base loop and hands every
// accepted connection to a NewConnectionCallback. It never touches a
// worker loop directly; TcpServer is responsible for handing the
// accepted fd off to whichever loop should own it.
type Acceptor struct {
	loop            *EventLoop
	sock            *Socket
	channel         *Channel
	listening       bool
	idleFd          int
	newConnectionCb func(fd int, peer InetAddress)
}

func NewAcceptor(loop *EventLoop, addr InetAddress, reusePort bool) *Acceptor {
	fd := createNonblockingSocket()
	sock := NewSocket(fd)
	sock.SetReuseAddr(true)
	sock.SetReusePort(reusePort)
	sock.BindAddress(addr)

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		logging.Fatalf("[Acceptor] opening idle fd reserve failed: %v", err)
	}

	a := &Acceptor{loop: loop, sock: sock, idleFd: idleFd}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a
}

func (a *Acceptor) SetNewConnectionCallback(cb func(fd int, peer InetAddress)) {
	a.newConnectionCb = cb
}

func (a *Acceptor) Listening() bool { return a.listening }

func (a *Acceptor) Listen() {
	a.loop.AssertInLoopThread()
	a.listening = true
	a.sock.Listen()
	a.channel.EnableReading()
}

// handleRead drains every pending connection on the listening socket
// until accept4 returns EAGAIN, so one readiness notification can't
// leave a second connection stuck behind level-triggered epoll's
// fairness with other fds.
func (a *Acceptor) handleRead(Timestamp) {
	a.loop.AssertInLoopThread()
	for {
		fd, peer, err := a.sock.Accept()
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EMFILE || err == unix.ENFILE {
				a.handleFileDescriptorExhaustion()
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			logging.Error("[Acceptor] accept4 failed: %v", err)
			return
		}

		if a.newConnectionCb != nil {
			a.newConnectionCb(fd, peer)
		} else {
			_ = unix.Close(fd)
		}
	}
}

// handleFileDescriptorExhaustion implements the idle-fd trick: close a
// reserved fd to free one slot, accept the backlogged connection just
// to immediately close it (so the peer sees a clean reset rather than
// the listening socket spinning readable forever), then reopen the
// reserve.
func (a *Acceptor) handleFileDescriptorExhaustion() {
	logging.Warn("[Acceptor] fd exhaustion, shedding one pending connection")
	_ = unix.Close(a.idleFd)
	nfd, _, _ := unix.Accept4(a.sock.Fd(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if nfd >= 0 {
		_ = unix.Close(nfd)
	}
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		logging.Fatalf("[Acceptor] reopening idle fd reserve failed: %v", err)
	}
	a.idleFd = idleFd
}
