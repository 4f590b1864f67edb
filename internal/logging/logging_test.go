package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestRotatingSinkCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	s := newRotatingSink(dir)
	if _, err := s.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write() err = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".log" {
		t.Fatalf("unexpected file name %q", entries[0].Name())
	}
}

func TestRotatingSinkRollsOverAfterLineLimit(t *testing.T) {
	dir := t.TempDir()
	s := newRotatingSink(dir)
	s.day = time.Now().Format("2006_01_02")
	s.lines = maxLinesPerFile
	if err := s.openCurrent(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("overflow\n")); err != nil {
		t.Fatal(err)
	}
	if s.seq != 1 {
		t.Fatalf("seq = %d, want 1 after rollover", s.seq)
	}
}

func TestAsyncSyncerFallsBackWhenQueueFull(t *testing.T) {
	fake := &captureSyncer{}
	// A one-slot queue that is already full and has no drain goroutine, so
	// the write below must take the synchronous fallback.
	a := &asyncSyncer{next: fake, queue: make(chan []byte, 1)}
	a.queue <- []byte("queued\n")
	if _, err := a.Write([]byte("line\n")); err != nil {
		t.Fatal(err)
	}
	if len(fake.written) != 1 {
		t.Fatalf("fallback write count = %d, want 1", len(fake.written))
	}
}

type captureSyncer struct{ written [][]byte }

func (c *captureSyncer) Write(p []byte) (int, error) {
	c.written = append(c.written, append([]byte(nil), p...))
	return len(p), nil
}
func (c *captureSyncer) Sync() error { return nil }

var _ zapcore.WriteSyncer = (*captureSyncer)(nil)
