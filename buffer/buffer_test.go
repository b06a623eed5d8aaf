package buffer

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer_InitialInvariants(t *testing.T) {
	b := NewDefault()
	require.Equal(t, CheapPrepend, b.PrependableBytes())
	require.Equal(t, 0, b.ReadableBytes())
}

func TestBuffer_AppendRetrieveRoundTrip(t *testing.T) {
	b := NewDefault()
	data := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(data)

	b.Append(data)
	require.Equal(t, len(data), b.ReadableBytes())

	got := b.RetrieveAllAsString()
	require.Equal(t, string(data), got)
	require.Equal(t, CheapPrepend, b.readerIndex)
	require.Equal(t, CheapPrepend, b.writerIndex)
}

func TestBuffer_RetrieveResetsIndicesOnlyWhenDrained(t *testing.T) {
	b := NewDefault()
	b.Append([]byte("hello world"))
	b.Retrieve(5)
	require.Equal(t, "world", string(b.Peek()))
	require.NotEqual(t, CheapPrepend, b.readerIndex)

	b.Retrieve(b.ReadableBytes())
	require.Equal(t, CheapPrepend, b.readerIndex)
	require.Equal(t, CheapPrepend, b.writerIndex)
}

func TestBuffer_GrowthSlidesBeforeExtending(t *testing.T) {
	b := New(16)
	b.Append([]byte("0123456789"))
	b.Retrieve(10) // drains to empty, resets indices to CheapPrepend

	b.Append([]byte("0123456789"))
	before := len(b.buf)
	b.Retrieve(5)
	// writable is 6, too short for 10, but writable+prependable (19)
	// covers 10+CheapPrepend, so makeSpace slides instead of growing.
	b.Append(make([]byte, 10))
	require.Equal(t, before, len(b.buf))
}

func TestBuffer_PartialRetrieveThenAppendNeverViolatesInvariant(t *testing.T) {
	b := New(8)
	for i := 0; i < 100; i++ {
		b.Append([]byte("xy"))
		if i%3 == 0 {
			b.Retrieve(1)
		}
		require.LessOrEqual(t, 0, b.readerIndex)
		require.LessOrEqual(t, b.readerIndex, b.writerIndex)
		require.LessOrEqual(t, b.writerIndex, len(b.buf))
	}
}

func TestBuffer_RetrieveAsStringPartial(t *testing.T) {
	b := NewDefault()
	b.Append([]byte("abcdef"))
	require.Equal(t, "abc", b.RetrieveAsString(3))
	require.Equal(t, "def", b.RetrieveAllAsString())
}

func TestBuffer_ReadFromWriteToPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := make([]byte, 200000) // forces the 65536-byte auxiliary area to matter
	rand.New(rand.NewSource(2)).Read(payload)

	go func() {
		out := New(1024)
		out.Append(payload)
		for out.ReadableBytes() > 0 {
			if _, err := out.WriteTo(int(w.Fd())); err != nil {
				return
			}
		}
		w.Close()
	}()

	in := New(1024)
	total := 0
	for total < len(payload) {
		n, err := in.ReadFrom(int(r.Fd()))
		require.NoError(t, err)
		total += n
	}
	require.Equal(t, payload, []byte(in.RetrieveAllAsString()))
}
