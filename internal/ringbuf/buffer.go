// Package ringbuf implements the growable, two-cursor byte buffer shared by
// the read and write sides of a connection.
package ringbuf

import (
	"errors"

	"golang.org/x/sys/unix"
)

// scratchSize is the stack-scratch region used by ReadFromFD to drain a
// single scatter-read as far as the kernel will give it to us in one call.
const scratchSize = 128 * 1024

// ErrRetrieveOverrun is returned by Retrieve when asked to advance past the
// readable span.
var ErrRetrieveOverrun = errors.New("ringbuf: retrieve past writePos")

// Buffer is a growable byte region with read_pos <= write_pos <= cap.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New allocates a Buffer with the given initial capacity.
func New(initCap int) *Buffer {
	if initCap <= 0 {
		initCap = 1024
	}
	return &Buffer{buf: make([]byte, initCap)}
}

// ReadableBytes returns the size of [readPos, writePos).
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the size of [writePos, cap).
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writePos }

// PrependableBytes returns the size of [0, readPos).
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable span without consuming it.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// Retrieve advances readPos by n. n must not exceed ReadableBytes.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		panic(ErrRetrieveOverrun)
	}
	b.readPos += n
}

// RetrieveUntil advances readPos to an absolute offset within the readable
// span, expressed as a byte count from the start of the current Peek().
func (b *Buffer) RetrieveUntil(offset int) {
	b.Retrieve(offset)
}

// RetrieveAll resets both cursors, emptying the readable span.
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// beginWrite returns the writable tail.
func (b *Buffer) beginWrite() []byte {
	return b.buf[b.writePos:]
}

// Append writes data into the buffer, compacting or growing as needed.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.beginWrite(), data)
	b.writePos += len(data)
}

// ensureWritable guarantees at least len bytes of writable tail, either by
// compacting the readable span to offset 0 or by growing the backing array.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() >= n {
		readable := b.ReadableBytes()
		copy(b.buf, b.buf[b.readPos:b.writePos])
		b.readPos = 0
		b.writePos = readable
		return
	}
	grown := make([]byte, b.writePos+n+1)
	copy(grown, b.buf[:b.writePos])
	b.buf = grown
}

// ReadFromFD performs a scatter read into the writable tail plus a stack
// scratch region, appending any overflow. It returns the number of bytes
// read and the syscall error (if any, e.g. EAGAIN under edge-triggered
// readiness).
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var scratch [scratchSize]byte
	writable := b.WritableBytes()

	nr, err := unix.Readv(fd, [][]byte{b.buf[b.writePos:], scratch[:]})
	if err != nil {
		return 0, err
	}
	switch {
	case nr <= writable:
		b.writePos += nr
	default:
		b.writePos = len(b.buf)
		b.Append(scratch[:nr-writable])
	}
	return nr, nil
}

// WriteToFD writes the whole readable span in a single call, advancing
// readPos by however much was actually written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.readPos += n
	}
	return n, err
}
