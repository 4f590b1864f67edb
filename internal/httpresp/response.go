// Package httpresp builds the HTTP/1.1 response: status line, headers,
// and a zero-copy file body delivered as two scatter/gather segments (the
// write buffer's header bytes, and an mmap'd region of the requested
// file).
package httpresp

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/xtaci/reactord/internal/ringbuf"
)

var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Response builds one HTTP response into a ringbuf.Buffer and tracks the
// mmap'd file body, if any.
type Response struct {
	code      int
	keepAlive bool
	srcDir    string
	path      string
	size      int64
	mapped    []byte
}

// Init (re)initializes the builder. Any previously mapped file is unmapped
// first, satisfying the "unmap before re-init" invariant.
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	r.Unmap()
	r.srcDir = srcDir
	r.path = path
	r.keepAlive = keepAlive
	r.code = code
	r.size = 0
}

// Code returns the (possibly substituted) status code.
func (r *Response) Code() int { return r.code }

// MappedFile returns the mmap'd body region, or nil if there is none (the
// inline-HTML-error path was taken instead).
func (r *Response) MappedFile() []byte { return r.mapped }

// Build stats the requested file, substitutes the error page on failure,
// and appends the status line, headers, and Content-length to buf. The
// body itself is not copied into buf — the caller reads MappedFile() to
// populate the second scatter segment.
func (r *Response) Build(buf *ringbuf.Buffer) {
	full := r.srcDir + r.path
	info, err := os.Stat(full)
	switch {
	case err != nil || info.IsDir():
		r.code = 404
	case info.Mode().Perm()&0o004 == 0:
		r.code = 403
	case r.code == -1 || r.code == 0:
		r.code = 200
	}

	if p, ok := codePath[r.code]; ok {
		r.path = p
		full = r.srcDir + r.path
	}

	r.addStatusLine(buf)
	r.addHeaders(buf)
	r.addContent(buf, full)
}

func (r *Response) addStatusLine(buf *ringbuf.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[r.code]
	}
	buf.Append([]byte("HTTP/1.1 " + strconv.Itoa(r.code) + " " + status + "\r\n"))
}

func (r *Response) addHeaders(buf *ringbuf.Buffer) {
	if r.keepAlive {
		buf.Append([]byte("Connection: keep-alive\r\n"))
		buf.Append([]byte("keep-alive: max=6, timeout=120\r\n"))
	} else {
		buf.Append([]byte("Connection: close\r\n"))
	}
	buf.Append([]byte("Content-type: " + r.fileType() + "\r\n"))
}

func (r *Response) addContent(buf *ringbuf.Buffer, full string) {
	f, err := os.Open(full)
	if err != nil {
		r.errorContent(buf, "File error")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		r.errorContent(buf, "File error")
		return
	}

	size := info.Size()
	if size == 0 {
		buf.Append([]byte("Content-length: 0\r\n\r\n"))
		return
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		r.errorContent(buf, "File mmap error")
		return
	}
	r.mapped = mapped
	r.size = size
	buf.Append([]byte("Content-length: " + strconv.FormatInt(size, 10) + "\r\n\r\n"))
}

// errorContent emits an inline HTML error body instead of aborting the
// connection, matching the original server's fallback for open/mmap
// failures.
func (r *Response) errorContent(buf *ringbuf.Buffer, message string) {
	status, ok := codeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	body := "<html><title>Error</title><body bgcolor=\"FFFFFF\">" +
		strconv.Itoa(r.code) + " : " + status + "\n" +
		"<p>" + message + "</p>" +
		"<hr><em>WebServer</em></body></html>"
	buf.Append([]byte("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n"))
	buf.Append([]byte(body))
}

func (r *Response) fileType() string {
	idx := -1
	for i := len(r.path) - 1; i >= 0; i-- {
		if r.path[i] == '.' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := suffixType[r.path[idx:]]; ok {
		return t
	}
	return "text/plain"
}

// Unmap releases the mmap'd body region, if any. Safe to call repeatedly;
// it is a no-op once the region has already been unmapped (mapped is set
// to nil immediately after unmapping, per the spec's double-unmap ban).
func (r *Response) Unmap() {
	if r.mapped == nil {
		return
	}
	unix.Munmap(r.mapped)
	r.mapped = nil
	r.size = 0
}
