// Package logging wires up the server's zap logger: a daily- and
// line-count-rotating file sink, optionally fed through a bounded async
// queue so callers normally do not wait on the disk; when the queue is
// full, or disabled, the write happens synchronously on the caller.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// maxLinesPerFile forces a rollover once a day's file has logged this many
// lines, matching the original server's log.cpp split threshold.
const maxLinesPerFile = 50000

// Config controls logger construction. QueueSize <= 0 disables the async
// queue and writes synchronously on the caller's goroutine, matching the
// original's "today's queue is full, log inline" fallback.
type Config struct {
	Enabled   bool
	Level     zapcore.Level
	Dir       string
	QueueSize int
}

// New builds a *zap.Logger. When cfg.Enabled is false it returns
// zap.NewNop() so call sites never need a nil check.
func New(cfg Config) (*zap.Logger, error) {
	if !cfg.Enabled {
		return zap.NewNop(), nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	sink := newRotatingSink(cfg.Dir)
	var ws zapcore.WriteSyncer = sink
	if cfg.QueueSize > 0 {
		ws = newAsyncSyncer(sink, cfg.QueueSize)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), ws, cfg.Level)
	return zap.New(core), nil
}

// rotatingSink is a zapcore.WriteSyncer that rolls over to a new file
// named after the current date whenever the date changes or the current
// file has taken maxLinesPerFile writes, appending "-N" for same-day
// overflow files the way the original log.cpp does.
type rotatingSink struct {
	mu    sync.Mutex
	dir   string
	day   string
	seq   int
	lines int
	file  *os.File
}

func newRotatingSink(dir string) *rotatingSink {
	return &rotatingSink{dir: dir}
}

func (s *rotatingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeeded(); err != nil {
		return 0, err
	}
	n, err := s.file.Write(p)
	s.lines++
	return n, err
}

func (s *rotatingSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

func (s *rotatingSink) rotateIfNeeded() error {
	today := time.Now().Format("2006_01_02")
	switch {
	case s.file == nil:
		s.day, s.seq, s.lines = today, 0, 0
		return s.openCurrent()
	case today != s.day:
		s.file.Close()
		s.day, s.seq, s.lines = today, 0, 0
		return s.openCurrent()
	case s.lines >= maxLinesPerFile:
		s.file.Close()
		s.seq++
		s.lines = 0
		return s.openCurrent()
	default:
		return nil
	}
}

func (s *rotatingSink) openCurrent() error {
	name := s.day + ".log"
	if s.seq > 0 {
		name = fmt.Sprintf("%s-%d.log", s.day, s.seq)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// asyncSyncer decouples callers from disk latency: writes are queued on a
// buffered channel and drained by a single background goroutine, matching
// the original server's producer/consumer blockqueue. A full queue falls
// back to a synchronous write rather than blocking the caller or
// dropping the line.
type asyncSyncer struct {
	next  zapcore.WriteSyncer
	queue chan []byte
}

func newAsyncSyncer(next zapcore.WriteSyncer, size int) *asyncSyncer {
	a := &asyncSyncer{next: next, queue: make(chan []byte, size)}
	go a.drain()
	return a
}

func (a *asyncSyncer) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	select {
	case a.queue <- line:
		return len(p), nil
	default:
		return a.next.Write(p)
	}
}

func (a *asyncSyncer) Sync() error {
	return a.next.Sync()
}

func (a *asyncSyncer) drain() {
	for line := range a.queue {
		a.next.Write(line)
	}
}
