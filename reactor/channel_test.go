package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestChannel_DispatchOrder_CloseBeforeReadWhenNoReadable(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var calls []string
	ch := NewChannel(loop, 999)
	ch.SetCloseCallback(func() { calls = append(calls, "close") })
	ch.SetReadCallback(func(Timestamp) { calls = append(calls, "read") })
	ch.SetErrorCallback(func() { calls = append(calls, "error") })

	ch.SetRevents(int32(unix.EPOLLHUP))
	ch.HandleEvent(Now())

	require.Equal(t, []string{"close"}, calls)
}

func TestChannel_DispatchOrder_HupWithReadableStillReads(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var calls []string
	ch := NewChannel(loop, 999)
	ch.SetCloseCallback(func() { calls = append(calls, "close") })
	ch.SetReadCallback(func(Timestamp) { calls = append(calls, "read") })

	ch.SetRevents(int32(unix.EPOLLHUP | unix.EPOLLIN))
	ch.HandleEvent(Now())

	require.Equal(t, []string{"read"}, calls)
}

func TestChannel_DispatchOrder_ErrorThenRead(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var calls []string
	ch := NewChannel(loop, 999)
	ch.SetErrorCallback(func() { calls = append(calls, "error") })
	ch.SetReadCallback(func(Timestamp) { calls = append(calls, "read") })

	ch.SetRevents(int32(unix.EPOLLERR | unix.EPOLLIN))
	ch.HandleEvent(Now())

	require.Equal(t, []string{"error", "read"}, calls)
}

func TestChannel_TieExpired_SkipsDispatch(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	called := false
	ch := NewChannel(loop, 999)
	ch.SetReadCallback(func(Timestamp) { called = true })
	ch.Tie(func() (interface{}, bool) { return nil, false })

	ch.SetRevents(int32(unix.EPOLLIN))
	ch.HandleEvent(Now())

	require.False(t, called)
}

func TestChannel_EnableDisable_TracksEventMask(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	// EnableReading/EnableWriting push the channel through epoll_ctl, so
	// this needs a real fd rather than the placeholder used by the pure
	// dispatch-order tests above.
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.NoError(t, err)
	defer unix.Close(fd)

	ch := NewChannel(loop, fd)
	require.True(t, ch.IsNoneEvent())

	ch.EnableReading()
	require.True(t, ch.IsReading())
	require.False(t, ch.IsWriting())

	ch.EnableWriting()
	require.True(t, ch.IsWriting())

	ch.DisableWriting()
	require.False(t, ch.IsWriting())

	ch.DisableAll()
	require.True(t, ch.IsNoneEvent())
}
