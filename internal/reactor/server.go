package reactor

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/xtaci/reactord/internal/dbauth"
	"github.com/xtaci/reactord/internal/netpoll"
	"github.com/xtaci/reactord/internal/timerwheel"
	"github.com/xtaci/reactord/internal/workerpool"
)

// maxConnections is the process-wide ceiling past which new accepts are
// rejected with a "Server busy" response instead of being registered.
const maxConnections = 65536

// backlog is the listen() backlog, matching the modest depth the original
// single-reactor server used rather than relying on SOMAXCONN.
const backlog = 8

// Config holds everything the reactor loop needs to bind its listener and
// size its collaborators.
type Config struct {
	Port        int
	SrcDir      string
	IdleTimeout time.Duration
	WorkerCount int
	MaxEvents   int
	Verifier    dbauth.Verifier
	Logger      *zap.Logger
}

// action is what a worker goroutine asks the reactor goroutine to do with
// a connection once its I/O has run. Workers never touch the connection
// table, the timer wheel, or the dispatcher directly — doing so from
// multiple goroutines would race; they only report back over resultCh.
type action int

const (
	actionRearmRead action = iota
	actionRearmWrite
	actionKeepAliveReset
	actionClose
)

type workResult struct {
	fd  int
	act action
}

// Server is the single-process, single-reactor-goroutine HTTP server: one
// goroutine owns the epoll dispatcher, the connection table, and the timer
// wheel; a fixed worker pool drains per-connection read/process/write
// work and reports outcomes back over resultCh, which only the reactor
// goroutine ever receives from. This mirrors the teacher's
// single-consumer channel discipline (events and completions funnel
// through one goroutine) rather than sharing mutable state across
// workers.
type Server struct {
	cfg      Config
	listenFd int
	poller   *netpoll.Dispatcher
	timers   *timerwheel.Wheel
	pool     *workerpool.Pool
	conns    map[int]*Connection

	eventsCh chan []netpoll.ReadyEvent
	resultCh chan workResult
	die      chan struct{}
}

// New binds the listening socket and constructs the reactor's
// collaborators, but does not yet start serving — call Run for that.
func New(cfg Config) (*Server, error) {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	listenFd, err := bindListener(cfg.Port)
	if err != nil {
		return nil, err
	}

	poller, err := netpoll.New(cfg.MaxEvents)
	if err != nil {
		unix.Close(listenFd)
		return nil, err
	}

	if err := poller.Add(listenFd, netpoll.EventRead); err != nil {
		poller.Close()
		unix.Close(listenFd)
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		listenFd: listenFd,
		poller:   poller,
		timers:   timerwheel.New(),
		pool:     workerpool.New(cfg.WorkerCount),
		conns:    make(map[int]*Connection),
		eventsCh: make(chan []netpoll.ReadyEvent, 1),
		resultCh: make(chan workResult, 256),
		die:      make(chan struct{}),
	}, nil
}

// Port reports the actual bound listening port — useful when Config.Port
// is 0 and the kernel picked an ephemeral one.
func (s *Server) Port() (int, error) {
	sa, err := unix.Getsockname(s.listenFd)
	if err != nil {
		return 0, err
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("reactor: unexpected sockaddr type %T", sa)
	}
	return in4.Port, nil
}

// bindListener creates, configures, and binds the listening socket:
// SO_REUSEADDR, SO_LINGER(on=1, linger=1), non-blocking, backlog per the
// original single-reactor server's sizing.
func bindListener(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	linger := unix.Linger{Onoff: 1, Linger: 1}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		unix.Close(fd)
		return -1, err
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Run drives the reactor loop until Close is called. It is the only
// goroutine that ever mutates conns, the timer wheel, or issues Add/
// Modify/Remove calls against the dispatcher — pollLoop and worker tasks
// only ever send it events and results.
func (s *Server) Run() error {
	go s.pollLoop()

	idleTimer := time.NewTimer(time.Hour)
	defer idleTimer.Stop()
	s.rearmIdleTimer(idleTimer)

	for {
		select {
		case <-s.die:
			return nil

		case batch, ok := <-s.eventsCh:
			if !ok {
				return errors.New("reactor: dispatcher closed")
			}
			s.handleEvents(batch)
			s.rearmIdleTimer(idleTimer)

		case res := <-s.resultCh:
			s.handleResult(res)
			s.rearmIdleTimer(idleTimer)

		case <-idleTimer.C:
			s.timers.Tick()
			s.rearmIdleTimer(idleTimer)
		}
	}
}

func (s *Server) rearmIdleTimer(t *time.Timer) {
	if d, ok := s.timers.NextTick(); ok {
		t.Reset(d)
	} else {
		t.Reset(time.Hour)
	}
}

// pollLoop blocks in epoll_wait on its own goroutine and forwards ready
// batches to the reactor goroutine. Closing the epoll fd does not wake a
// Wait already in progress, so each Wait is bounded; pollLoop exits once
// die is closed or Wait fails on the released epoll fd.
func (s *Server) pollLoop() {
	defer close(s.eventsCh)
	for {
		n, err := s.poller.Wait(100)
		if err != nil {
			return
		}
		if n == 0 {
			select {
			case <-s.die:
				return
			default:
				continue
			}
		}
		batch := make([]netpoll.ReadyEvent, n)
		for i := 0; i < n; i++ {
			batch[i] = netpoll.ReadyEvent{Fd: s.poller.EventFD(i), Events: s.poller.EventMask(i)}
		}
		select {
		case s.eventsCh <- batch:
		case <-s.die:
			return
		}
	}
}

func (s *Server) handleEvents(batch []netpoll.ReadyEvent) {
	for _, ev := range batch {
		if ev.Fd == s.listenFd {
			s.acceptAll()
			continue
		}

		conn, ok := s.conns[ev.Fd]
		if !ok {
			continue
		}

		switch {
		case ev.Events&(netpoll.EventRDHup|netpoll.EventHup|netpoll.EventErr) != 0:
			s.closeConn(conn)
		case ev.Events&netpoll.EventRead != 0:
			s.pool.AddTask(func() { s.onRead(conn) })
		case ev.Events&netpoll.EventWrite != 0:
			s.pool.AddTask(func() { s.onWrite(conn) })
		}
	}
}

// handleResult applies a worker's requested follow-up action. Like
// handleEvents and the timer callbacks, it runs only on the reactor
// goroutine, so it never races with pollLoop or the pool.
func (s *Server) handleResult(res workResult) {
	conn, ok := s.conns[res.fd]
	if !ok {
		return
	}

	switch res.act {
	case actionClose:
		s.closeConn(conn)
	case actionRearmRead:
		s.timers.Adjust(res.fd, s.cfg.IdleTimeout)
		s.poller.Modify(res.fd, netpoll.EventRead|netpoll.EventEdge|netpoll.EventOneShot)
	case actionRearmWrite:
		s.timers.Adjust(res.fd, s.cfg.IdleTimeout)
		s.poller.Modify(res.fd, netpoll.EventWrite|netpoll.EventEdge|netpoll.EventOneShot)
	case actionKeepAliveReset:
		conn.Reset()
		s.timers.Adjust(res.fd, s.cfg.IdleTimeout)
		s.poller.Modify(res.fd, netpoll.EventRead|netpoll.EventEdge|netpoll.EventOneShot)
	}
}

// acceptAll drains every pending connection on the listening socket until
// accept reports EAGAIN, so a single readiness notification handles every
// backlogged accept (the listening socket itself is registered
// level-triggered). Runs on the reactor goroutine, so it is the sole
// writer into conns at insertion time.
func (s *Server) acceptAll() {
	for {
		fd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if !errors.Is(err, unix.ECONNABORTED) {
				s.cfg.Logger.Warn("accept error", zap.Error(err))
			}
			return
		}

		if UserCount() >= maxConnections {
			unix.Write(fd, []byte("Server busy"))
			unix.Close(fd)
			continue
		}

		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}

		conn := &Connection{}
		conn.Init(fd, sa, s.cfg.SrcDir, s.cfg.Verifier)
		s.conns[fd] = conn

		if err := s.poller.Add(fd, netpoll.EventRead|netpoll.EventEdge|netpoll.EventOneShot); err != nil {
			conn.Close()
			delete(s.conns, fd)
			continue
		}
		s.timers.Add(fd, s.cfg.IdleTimeout, func() { s.expireConn(fd) })
	}
}

// onRead runs on a worker goroutine. EPOLLONESHOT guarantees this is the
// only goroutine touching conn's buffers/parser until the reactor
// goroutine re-arms it via handleResult, so no per-connection locking is
// required; the worker reports its outcome instead of mutating shared
// state itself.
func (s *Server) onRead(conn *Connection) {
	if conn.Closed() {
		return
	}

	n, err := conn.Read()
	if (n == 0 && err == nil) || (err != nil && err != unix.EAGAIN) {
		s.resultCh <- workResult{fd: conn.Fd(), act: actionClose}
		return
	}

	if !conn.Process() {
		s.resultCh <- workResult{fd: conn.Fd(), act: actionRearmRead}
		return
	}

	s.resultCh <- workResult{fd: conn.Fd(), act: actionRearmWrite}
}

// onWrite runs on a worker goroutine, flushing as much of the pending
// response as the socket accepts and reporting whether to re-arm for more
// writes, loop back to read the next pipelined request, or close.
func (s *Server) onWrite(conn *Connection) {
	if conn.Closed() {
		return
	}

	_, err := conn.Write()
	if err != nil && err != unix.EAGAIN {
		s.resultCh <- workResult{fd: conn.Fd(), act: actionClose}
		return
	}

	if !conn.Done() {
		s.resultCh <- workResult{fd: conn.Fd(), act: actionRearmWrite}
		return
	}

	if !conn.IsKeepAlive() {
		s.resultCh <- workResult{fd: conn.Fd(), act: actionClose}
		return
	}

	s.resultCh <- workResult{fd: conn.Fd(), act: actionKeepAliveReset}
}

// expireConn is the timer-wheel callback for an idle connection. It runs
// on the reactor goroutine (from within Tick, itself called from Run), so
// it may close directly rather than going through resultCh.
func (s *Server) expireConn(fd int) {
	conn, ok := s.conns[fd]
	if !ok || conn.Closed() {
		return
	}
	s.closeConn(conn)
}

// closeConn deregisters fd from the dispatcher and timer wheel, closes the
// socket, and drops it from the connection table. Only ever called from
// the reactor goroutine.
func (s *Server) closeConn(conn *Connection) {
	fd := conn.Fd()
	s.poller.Remove(fd)
	s.timers.Remove(fd)
	conn.Close()
	delete(s.conns, fd)
}

// Close stops the reactor loop, releases the dispatcher, drains the
// worker pool, and closes every live connection.
func (s *Server) Close() error {
	close(s.die)
	unix.Close(s.listenFd)
	err := s.poller.Close() // pollLoop's next Wait fails and it exits
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[int]*Connection)
	s.pool.Close()
	return err
}
