// Package buffer implements the application-level byte buffer used by
// TcpConnection: a resizable area with a cheap-prepend header and a
// scatter-read fast path for draining a socket in one syscall.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

const (
	// CheapPrepend is the reserved header room at the front of the
	// buffer, reported by PrependableBytes. Buffer has no method that
	// writes into this region.
	CheapPrepend = 8
	initialSize  = 1024
	extraBufSize = 65536
)

var ErrClosed = errors.New("buffer: connection closed")

// Buffer is a contiguous mutable byte area split into three regions by
// two indices: [0, readerIndex) prepend/free, [readerIndex,
// writerIndex) readable, [writerIndex, len(buf)) writable. The
// invariant 0 <= readerIndex <= writerIndex <= len(buf) holds after
// every operation; once fully drained both indices reset to
// CheapPrepend.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
	extrabuf    [extraBufSize]byte
}

// New returns a Buffer with the given initial writable capacity beyond
// the cheap-prepend header.
func New(initial int) *Buffer {
	if initial <= 0 {
		initial = initialSize
	}
	return &Buffer{
		buf:         make([]byte, CheapPrepend+initial),
		readerIndex: CheapPrepend,
		writerIndex: CheapPrepend,
	}
}

func NewDefault() *Buffer { return New(initialSize) }

func (b *Buffer) ReadableBytes() int    { return b.writerIndex - b.readerIndex }
func (b *Buffer) WritableBytes() int    { return len(b.buf) - b.writerIndex }
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Peek returns a view into the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.readerIndex:b.writerIndex] }

func (b *Buffer) resetIndices() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

// Retrieve consumes up to n readable bytes. Once the buffer is fully
// drained the indices reset to CheapPrepend so future appends don't
// creep toward the end of the backing array.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	b.readerIndex += n
	if b.readerIndex == b.writerIndex {
		b.resetIndices()
	}
}

func (b *Buffer) RetrieveAll() { b.resetIndices() }

// RetrieveAsString consumes and returns up to n readable bytes.
func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// Append grows the buffer if necessary and copies data onto the
// writable tail.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.buf[b.writerIndex:], data)
	b.writerIndex += len(data)
}

func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// makeSpace implements the growth policy: when writable+prependable
// slack covers the request plus the header, slide the readable bytes
// left instead of growing the backing array; otherwise extend it.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		grown := make([]byte, b.writerIndex+n)
		copy(grown, b.buf[:b.writerIndex])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = CheapPrepend
	b.writerIndex = b.readerIndex + readable
}

// ReadFrom drains fd using a two-segment scatter read: the current
// writable region, then a 64 KiB auxiliary area. A single syscall
// therefore suffices for reads up to WritableBytes()+65536 bytes,
// avoiding repeated Read calls under bursty traffic while keeping the
// steady-state buffer small. If the kernel reports more bytes than fit
// in the writable region, the overflow is appended, growing the
// buffer.
func (b *Buffer) ReadFrom(fd int) (int, error) {
	writable := b.WritableBytes()
	iovs := [][]byte{b.buf[b.writerIndex:], b.extrabuf[:]}
	if writable >= extraBufSize {
		iovs = iovs[:1]
	}
	n, err := readv(fd, iovs)
	if err != nil {
		return -1, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(b.extrabuf[:n-writable])
	}
	return n, nil
}

// WriteTo drains the readable region to fd. On partial success the
// caller is responsible for re-arming write interest; Retrieve is
// applied for exactly the bytes the kernel accepted.
func (b *Buffer) WriteTo(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

func readv(fd int, iovs [][]byte) (int, error) {
	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return -1, err
	}
	return n, nil
}
