package reactor

import (
	"sync/atomic"

	"greactor/buffer"
	"greactor/logging"

	"golang.org/x/sys/unix"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

const defaultHighWaterMark = 64 * 1024 * 1024

type (
	ConnectionCallback      func(conn *TcpConnection)
	MessageCallback         func(conn *TcpConnection, in *buffer.Buffer, receiveTime Timestamp)
	WriteCompleteCallback   func(conn *TcpConnection)
	HighWaterMarkCallback   func(conn *TcpConnection, bytesQueued int)
	CloseCallback           func(conn *TcpConnection)
)

// TcpConnection owns one accepted, already-nonblocking socket for its
// entire lifetime, confined to a single EventLoop. Unlike the original
// it needs no shared_from_this/weak_ptr pair to survive between a
// callback firing and the connection tearing down concurrently — the
// Go runtime keeps the struct alive as long as anything (including a
// Channel's tie closure) references it, so the tie exists purely to
// let dispatch notice a connection has already moved to Disconnected.
type TcpConnection struct {
	loop *EventLoop
	name string

	state atomic.Int32

	sock    *Socket
	channel *Channel

	localAddr InetAddress
	peerAddr  InetAddress

	inputBuffer  *buffer.Buffer
	outputBuffer *buffer.Buffer

	highWaterMark int

	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMarkCb HighWaterMarkCallback
	closeCb         CloseCallback

	context interface{}
}

func NewTcpConnection(loop *EventLoop, name string, sockfd int, local, peer InetAddress) *TcpConnection {
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		sock:          NewSocket(sockfd),
		localAddr:     local,
		peerAddr:      peer,
		inputBuffer:   buffer.NewDefault(),
		outputBuffer:  buffer.NewDefault(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(int32(StateConnecting))

	c.sock.SetTCPNoDelay(true)
	c.sock.SetKeepAlive(true)

	c.channel = NewChannel(loop, sockfd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)

	logging.Debug("[TcpConnection] %s constructed fd=%d", name, sockfd)
	return c
}

func (c *TcpConnection) Loop() *EventLoop  { return c.loop }
func (c *TcpConnection) Name() string      { return c.name }
func (c *TcpConnection) LocalAddress() InetAddress { return c.localAddr }
func (c *TcpConnection) PeerAddress() InetAddress  { return c.peerAddr }

func (c *TcpConnection) State() ConnState { return ConnState(c.state.Load()) }
func (c *TcpConnection) Connected() bool  { return c.State() == StateConnected }

func (c *TcpConnection) SetContext(ctx interface{}) { c.context = ctx }
func (c *TcpConnection) Context() interface{}       { return c.context }

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback)         { c.connectionCb = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)               { c.messageCb = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback)   { c.writeCompleteCb = cb }
func (c *TcpConnection) SetCloseCallback(cb CloseCallback)                   { c.closeCb = cb }
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCb = cb
	c.highWaterMark = mark
}

// Send queues data for transmission. A mandatory copy happens when the
// caller isn't on the connection's loop goroutine, since the caller's
// buffer is not guaranteed to outlive the hop through QueueInLoop.
func (c *TcpConnection) Send(data []byte) {
	if c.State() != StateConnected {
		logging.Debug("[TcpConnection] Send on non-connected conn %s", c.name)
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
	} else {
		cp := make([]byte, len(data))
		copy(cp, data)
		c.loop.QueueInLoop(func() { c.sendInLoop(cp) })
	}
}

func (c *TcpConnection) sendInLoop(data []byte) {
	c.loop.AssertInLoopThread()

	var nwrote int
	remaining := len(data)
	hadError := false

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.channel.Fd(), data)
		if err != nil {
			n = 0
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				logging.Error("[TcpConnection] sendInLoop write %s: %v", c.name, err)
				hadError = true
			}
		}
		nwrote = n
		remaining = len(data) - nwrote
		if remaining == 0 && nwrote > 0 && c.writeCompleteCb != nil {
			cb := c.writeCompleteCb
			c.loop.QueueInLoop(func() { cb(c) })
		}
	}

	if !hadError && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		c.outputBuffer.Append(data[nwrote:])

		if oldLen < c.highWaterMark && oldLen+remaining >= c.highWaterMark && c.highWaterMarkCb != nil {
			cb := c.highWaterMarkCb
			total := oldLen + remaining
			c.loop.QueueInLoop(func() { cb(c, total) })
		}

		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the connection for writing once any queued
// output has drained; it never discards unsent data.
func (c *TcpConnection) Shutdown() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		c.sock.ShutdownWrite()
	}
}

// connectEstablished is invoked once by whichever loop will own this
// connection, after the channel has been registered on that loop.
func (c *TcpConnection) connectEstablished() {
	c.loop.AssertInLoopThread()
	c.state.Store(int32(StateConnected))
	c.channel.Tie(func() (interface{}, bool) {
		return c, c.State() != StateDisconnected
	})
	c.channel.EnableReading()
	if c.connectionCb != nil {
		c.connectionCb(c)
	}
}

// connectDestroyed is reached via QueueInLoop from
// TcpServer.removeConnection, never called directly in response to a
// channel event, so that the connection is torn down strictly after
// the dispatch loop has finished iterating the active channel list for
// this round. TcpServer.Stop reaches it through RunInLoop instead.
func (c *TcpConnection) connectDestroyed() {
	c.loop.AssertInLoopThread()
	if c.state.Swap(int32(StateDisconnected)) == int32(StateConnected) {
		c.channel.DisableAll()
		if c.connectionCb != nil {
			c.connectionCb(c)
		}
	}
	c.channel.Remove()
}

func (c *TcpConnection) handleRead(ts Timestamp) {
	c.loop.AssertInLoopThread()
	n, err := c.inputBuffer.ReadFrom(c.channel.Fd())
	switch {
	case n > 0:
		if c.messageCb != nil {
			c.messageCb(c, c.inputBuffer, ts)
		}
	case n == 0:
		c.handleClose()
	default:
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		logging.Error("[TcpConnection] handleRead %s: %v", c.name, err)
		c.handleError()
		c.handleClose()
	}
}

func (c *TcpConnection) handleWrite() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		return
	}
	n, err := c.outputBuffer.WriteTo(c.channel.Fd())
	if err != nil {
		logging.Error("[TcpConnection] handleWrite %s: %v", c.name, err)
		return
	}
	if n <= 0 {
		return
	}
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCb != nil {
			cb := c.writeCompleteCb
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.loop.AssertInLoopThread()
	c.state.Store(int32(StateDisconnected))
	c.channel.DisableAll()

	if c.connectionCb != nil {
		c.connectionCb(c)
	}
	if c.closeCb != nil {
		c.closeCb(c)
	}
}

func (c *TcpConnection) handleError() {
	err := c.sock.SocketError()
	logging.Error("[TcpConnection] socket error on %s: %v", c.name, err)
}
