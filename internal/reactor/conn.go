// Package reactor ties the netpoll dispatcher, the ring buffers, the
// HTTP parser/responder, the timer wheel, and the worker pool together
// into the single-process edge-triggered server described by the spec.
package reactor

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/xtaci/reactord/internal/dbauth"
	"github.com/xtaci/reactord/internal/httpreq"
	"github.com/xtaci/reactord/internal/httpresp"
	"github.com/xtaci/reactord/internal/ringbuf"
)

// userCount is the process-wide count of live connections, used to reject
// new ones past the maxConnections ceiling ("server busy").
var userCount int32

// UserCount reports the current number of live connections.
func UserCount() int32 { return atomic.LoadInt32(&userCount) }

// Connection is one accepted socket plus everything needed to drive it
// through read -> parse -> respond -> write without blocking the reactor
// goroutine.
type Connection struct {
	fd        int
	peer      unix.Sockaddr
	srcDir    string
	closed    bool
	keepAlive bool

	readBuf  ringbuf.Buffer
	writeBuf ringbuf.Buffer

	req  *httpreq.Request
	resp httpresp.Response

	// Write builds the two scatter/gather segments for each writev from
	// the response header bytes (writeBuf) and, when present, the mmap'd
	// file body. writeFileOffset tracks how much of the file segment has
	// been flushed across partial writes.
	writeFileOffset int
}

// Init (re)initializes a Connection for a freshly accepted fd. srcDir is
// the document root used to resolve request paths; verifier may be nil to
// disable login/register handling.
func (c *Connection) Init(fd int, peer unix.Sockaddr, srcDir string, verifier dbauth.Verifier) {
	c.fd = fd
	c.peer = peer
	c.srcDir = srcDir
	c.closed = false
	c.keepAlive = false
	c.writeFileOffset = 0
	c.readBuf = *ringbuf.New(2048)
	c.writeBuf = *ringbuf.New(2048)
	c.req = httpreq.New(verifier)
	atomic.AddInt32(&userCount, 1)
}

// Fd returns the underlying file descriptor.
func (c *Connection) Fd() int { return c.fd }

// IsKeepAlive reports whether the connection should remain open after the
// in-flight response is flushed.
func (c *Connection) IsKeepAlive() bool { return c.keepAlive }

// Closed reports whether Close has already run.
func (c *Connection) Closed() bool { return c.closed }

// Read drains the socket into the read buffer, looping until the kernel
// reports would-block — an edge-triggered readiness notification only
// fires once per transition, so anything left unread here is lost until
// more data arrives. Returns the total bytes read across the loop and
// either nil (peer performed an orderly shutdown), unix.EAGAIN (drained,
// connection stays open), or the syscall error that ended the loop.
func (c *Connection) Read() (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFromFD(c.fd)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Process runs the HTTP parser over whatever is now in the read buffer
// and, on a complete request, builds the response into the write buffer.
// It reports whether a response is now ready to flush.
func (c *Connection) Process() bool {
	code := c.req.Parse(&c.readBuf)
	switch code {
	case httpreq.NoRequest:
		return false
	case httpreq.GetRequest:
		c.keepAlive = c.req.IsKeepAlive()
		c.resp.Init(c.srcDir, c.req.Path(), c.keepAlive, -1)
	default: // BadRequest, InternalError
		c.keepAlive = false
		c.resp.Init(c.srcDir, "/400.html", false, 400)
	}
	c.resp.Build(&c.writeBuf)
	c.writeFileOffset = 0
	c.req.Init()
	return true
}

// ToWriteBytes reports the total bytes still owed to the peer across both
// scatter/gather segments.
func (c *Connection) ToWriteBytes() int {
	return c.writeBuf.ReadableBytes() + len(c.resp.MappedFile()) - c.writeFileOffset
}

// Write flushes the pending response via Writev, looping so the header
// segment and the mmap'd file segment keep draining across partial writes
// until either nothing is left to send or the socket would block.
func (c *Connection) Write() (int, error) {
	total := 0
	for {
		head := c.writeBuf.Peek()
		file := c.resp.MappedFile()
		if c.writeFileOffset > 0 && c.writeFileOffset < len(file) {
			file = file[c.writeFileOffset:]
		} else if c.writeFileOffset >= len(file) {
			file = nil
		}

		var iovecs [][]byte
		if len(head) > 0 {
			iovecs = append(iovecs, head)
		}
		if len(file) > 0 {
			iovecs = append(iovecs, file)
		}
		if len(iovecs) == 0 {
			return total, nil
		}

		n, err := unix.Writev(c.fd, iovecs)
		if n > 0 {
			c.consumeWritten(n, len(head))
			total += n
		}
		if err != nil {
			return total, err
		}
	}
}

// consumeWritten advances the header buffer and file offset cursors by n
// total bytes written, in segment order (header first, then file).
func (c *Connection) consumeWritten(n, headLen int) {
	if headLen > 0 {
		take := n
		if take > headLen {
			take = headLen
		}
		c.writeBuf.Retrieve(take)
		n -= take
	}
	if n > 0 {
		c.writeFileOffset += n
	}
}

// Done reports whether the full response has been flushed to the socket.
func (c *Connection) Done() bool {
	return c.writeBuf.ReadableBytes() == 0 && c.writeFileOffset >= len(c.resp.MappedFile())
}

// Reset prepares the connection to parse the next pipelined/keep-alive
// request once the current response has been fully flushed.
func (c *Connection) Reset() {
	c.resp.Unmap()
	c.writeFileOffset = 0
}

// Close unmaps any outstanding response body, closes the fd, and
// decrements the process-wide connection count. Idempotent: once closed,
// further calls return nil without touching the fd or the count again.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.resp.Unmap()
	atomic.AddInt32(&userCount, -1)
	return unix.Close(c.fd)
}
