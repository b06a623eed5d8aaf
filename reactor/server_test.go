package reactor

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"greactor/buffer"

	"github.com/stretchr/testify/require"
)

// freePort asks the kernel for an ephemeral port by opening and
// immediately closing a listener on it.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// spawnBaseLoop constructs an EventLoop on a dedicated goroutine (the
// loop must be built on the same goroutine that later calls Loop, so
// its goroutine-id registration matches) and runs it until stopped.
func spawnBaseLoop(t *testing.T) (loop *EventLoop, stop func()) {
	t.Helper()
	ready := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		lockToOSThread()
		l := NewEventLoop()
		ready <- l
		l.Loop()
		l.Close()
		close(done)
	}()
	l := <-ready
	return l, func() {
		l.Quit()
		<-done
	}
}

func startEchoServer(t *testing.T, threads int) (addr string, stop func()) {
	t.Helper()
	port := freePort(t)

	baseLoop, stopLoop := spawnBaseLoop(t)
	srv := NewTcpServer(baseLoop, NewInetAddress(uint16(port), "127.0.0.1"), "echo", false)
	srv.SetThreadNum(threads)
	srv.SetMessageCallback(func(conn *TcpConnection, in *buffer.Buffer, _ Timestamp) {
		conn.Send([]byte(in.RetrieveAllAsString()))
	})
	srv.Start()

	// Give the acceptor's RunInLoop a chance to land before dialing.
	time.Sleep(20 * time.Millisecond)

	return "127.0.0.1:" + strconv.Itoa(port), func() {
		srv.Stop()
		stopLoop()
	}
}

func TestTcpServer_EchoRoundTrip_BaseLoopOnly(t *testing.T) {
	addr, stop := startEchoServer(t, 0)
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello reactor"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello reactor", string(buf[:n]))
}

func TestTcpServer_EchoRoundTrip_WithWorkerPool(t *testing.T) {
	addr, stop := startEchoServer(t, 2)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			require.NoError(t, err)
			defer conn.Close()

			msg := "client-" + strconv.Itoa(n)
			_, err = conn.Write([]byte(msg))
			require.NoError(t, err)

			buf := make([]byte, 64)
			conn.SetReadDeadline(time.Now().Add(time.Second))
			got, err := conn.Read(buf)
			require.NoError(t, err)
			require.Equal(t, msg, string(buf[:got]))
		}(i)
	}
	wg.Wait()
}

func TestTcpServer_GracefulClose_PeerSeesEOF(t *testing.T) {
	port := freePort(t)
	baseLoop, stopLoop := spawnBaseLoop(t)
	srv := NewTcpServer(baseLoop, NewInetAddress(uint16(port), "127.0.0.1"), "closer", false)

	closedConn := make(chan struct{}, 1)
	srv.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			conn.Shutdown()
		} else {
			closedConn <- struct{}{}
		}
	})
	srv.Start()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), time.Second)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, err) // EOF: server half-closed its write side

	conn.Close()
	select {
	case <-closedConn:
	case <-time.After(time.Second):
		t.Fatal("server never observed the client's FIN")
	}

	srv.Stop()
	stopLoop()
}

func TestTcpServer_HighWaterMark_FiresOnBackloggedWriter(t *testing.T) {
	port := freePort(t)
	baseLoop, stopLoop := spawnBaseLoop(t)
	srv := NewTcpServer(baseLoop, NewInetAddress(uint16(port), "127.0.0.1"), "hwm", false)

	const mark = 4096
	hit := make(chan int, 1)
	connReady := make(chan *TcpConnection, 1)
	srv.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			conn.SetHighWaterMarkCallback(func(_ *TcpConnection, bytes int) {
				select {
				case hit <- bytes:
				default:
				}
			}, mark)
			connReady <- conn
		}
	})
	srv.Start()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	serverConn := <-connReady

	// The test client never reads, so once the loopback socket buffers
	// fill, the rest of the payload queues in outputBuffer and crosses
	// the high-water mark. 16 MiB is well past what those buffers can
	// absorb in one write.
	payload := make([]byte, 16<<20)
	serverConn.Send(payload)

	select {
	case bytes := <-hit:
		require.GreaterOrEqual(t, bytes, mark)
	case <-time.After(2 * time.Second):
		t.Fatal("high water mark callback never fired")
	}

	srv.Stop()
	stopLoop()
}
