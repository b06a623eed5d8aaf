package reactor

import (
	"fmt"
	"sync"

	"greactor/logging"

	"golang.org/x/sys/unix"
)

// TcpServer is the programmer-facing entry point: construct one,
// register callbacks, call Start. It owns the Acceptor on the base
// loop, a LoopPool for I/O distribution, and the registry of live
// connections.
type TcpServer struct {
	loop     *EventLoop
	ipPort   string
	name     string
	acceptor *Acceptor
	pool     *LoopPool

	mu          sync.Mutex
	connections map[string]*TcpConnection
	nextConnID  int

	started bool

	threadInitCb    func(*EventLoop)
	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
}

func NewTcpServer(loop *EventLoop, listenAddr InetAddress, name string, reusePort bool) *TcpServer {
	s := &TcpServer{
		loop:        loop,
		ipPort:      listenAddr.ToIPPort(),
		name:        name,
		connections: make(map[string]*TcpConnection),
		nextConnID:  1,
	}
	s.acceptor = NewAcceptor(loop, listenAddr, reusePort)
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	s.pool = NewLoopPool(loop, name)
	return s
}

func (s *TcpServer) SetThreadNum(n int) { s.pool.SetThreadNum(n) }

func (s *TcpServer) SetThreadInitCallback(cb func(*EventLoop))    { s.threadInitCb = cb }
func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback)  { s.connectionCb = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)        { s.messageCb = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCb = cb
}

// Start is idempotent: the pool spins up its worker loops and the
// acceptor starts listening exactly once, regardless of how many
// times Start is called.
func (s *TcpServer) Start() {
	s.mu.Lock()
	already := s.started
	s.started = true
	s.mu.Unlock()
	if already {
		return
	}

	s.pool.Start(s.threadInitCb)
	s.loop.RunInLoop(func() { s.acceptor.Listen() })
}

// Stop drains every live connection, handing connectDestroyed to each
// connection's own loop via RunInLoop (run at once when Stop is called
// on that loop's goroutine, queued otherwise), then stops the worker
// pool. It is the
// Go analog of the destructor's teardown in the original — there is no
// implicit finalizer here, so an embedder must call it explicitly.
func (s *TcpServer) Stop() {
	s.mu.Lock()
	conns := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = make(map[string]*TcpConnection)
	s.mu.Unlock()

	for _, c := range conns {
		conn := c
		conn.Loop().RunInLoop(func() { conn.connectDestroyed() })
	}
	s.pool.Stop()
}

func (s *TcpServer) newConnection(sockfd int, peerAddr InetAddress) {
	ioLoop := s.pool.GetNextLoop()

	s.mu.Lock()
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.nextConnID++
	s.mu.Unlock()

	sa, err := unix.Getsockname(sockfd)
	if err != nil {
		logging.Error("[TcpServer] getsockname fd=%d failed: %v", sockfd, err)
		_ = unix.Close(sockfd)
		return
	}
	v4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		logging.Error("[TcpServer] getsockname fd=%d returned non-IPv4 address", sockfd)
		_ = unix.Close(sockfd)
		return
	}
	localAddr := inetAddressFromSockaddr(*v4)

	conn := NewTcpConnection(ioLoop, connName, sockfd, localAddr, peerAddr)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	conn.SetConnectionCallback(s.connectionCb)
	conn.SetMessageCallback(s.messageCb)
	conn.SetWriteCompleteCallback(s.writeCompleteCb)
	conn.SetCloseCallback(s.removeConnection)

	ioLoop.RunInLoop(func() { conn.connectEstablished() })
}

func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	logging.Debug("[TcpServer] removing connection %s", conn.Name())

	s.mu.Lock()
	_, ok := s.connections[conn.Name()]
	delete(s.connections, conn.Name())
	s.mu.Unlock()

	if ok {
		conn.Loop().QueueInLoop(func() { conn.connectDestroyed() })
	}
}
