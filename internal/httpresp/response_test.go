package httpresp

import (
	"strings"
	"testing"

	"github.com/xtaci/reactord/internal/ringbuf"
)

func TestBuildServesExistingFile(t *testing.T) {
	var r Response
	r.Init("testdata", "/sample.html", true, -1)
	buf := ringbuf.New(256)
	r.Build(buf)
	defer r.Unmap()

	if r.Code() != 200 {
		t.Fatalf("Code() = %d, want 200", r.Code())
	}
	head := string(buf.Peek())
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("missing status line: %q", head)
	}
	if !strings.Contains(head, "Connection: keep-alive\r\n") {
		t.Fatalf("missing keep-alive header: %q", head)
	}
	if !strings.Contains(head, "keep-alive: max=6, timeout=120\r\n") {
		t.Fatalf("missing keep-alive parameters: %q", head)
	}
	if !strings.Contains(head, "Content-type: text/html\r\n") {
		t.Fatalf("missing content-type: %q", head)
	}
	if string(r.MappedFile()) != "<html>ok</html>" {
		t.Fatalf("MappedFile() = %q", r.MappedFile())
	}
}

func TestBuildMissingFileFallsBackTo404(t *testing.T) {
	var r Response
	r.Init("testdata", "/does-not-exist.html", false, -1)
	buf := ringbuf.New(256)
	r.Build(buf)
	defer r.Unmap()

	if r.Code() != 404 {
		t.Fatalf("Code() = %d, want 404", r.Code())
	}
	head := string(buf.Peek())
	if !strings.HasPrefix(head, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("missing 404 status line: %q", head)
	}
	if !strings.Contains(head, "Connection: close\r\n") {
		t.Fatalf("non-keep-alive response should close: %q", head)
	}
}

func TestUnmapIsIdempotent(t *testing.T) {
	var r Response
	r.Init("testdata", "/sample.html", true, -1)
	buf := ringbuf.New(256)
	r.Build(buf)

	r.Unmap()
	if r.MappedFile() != nil {
		t.Fatal("MappedFile() non-nil after Unmap")
	}
	r.Unmap() // must not panic on double-unmap
}

func TestFileTypeFallsBackToPlainText(t *testing.T) {
	var r Response
	r.Init("testdata", "/sample.unknownext", true, -1)
	if got := r.fileType(); got != "text/plain" {
		t.Fatalf("fileType() = %q, want text/plain", got)
	}
}
