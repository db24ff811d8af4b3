package echo

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultQueueLength    = 30
	DefaultReadBufferSize = 1460 // one TCP MSS
	DefaultShutdownDelay  = 5 * time.Second
	DefaultIdleDelay      = 100 * time.Millisecond
)

var (
	ErrServerStarted = errors.New("server already started")
	ErrServerClosed  = errors.New("server closed")
	ErrAccept        = errors.New("accept failed")
)

// WindowProps sizes the kernel buffers of an accepted connection. Each
// direction gets BufSize*WinSize bytes; a zero BufSize leaves the OS default.
type WindowProps struct {
	TxBufSize int
	TxWinSize int
	RxBufSize int
	RxWinSize int
}

var DefaultWindow = WindowProps{
	TxBufSize: 4 * DefaultReadBufferSize,
	TxWinSize: 2,
	RxBufSize: 4 * DefaultReadBufferSize,
	RxWinSize: 2,
}

type handoff struct {
	count uint32
	sess  *session
}

// Server serves one TCP client at a time. A receiver goroutine owns the
// connection lifecycle and queues one item per chunk read; a transmitter
// goroutine writes one reply per queued item.
type Server struct {
	Addr string   // defaults to ":7"
	Bind BindFunc // defaults to BindTCP(Addr)

	QueueLength    int
	ReadBufferSize int
	Window         *WindowProps // defaults to DefaultWindow

	ShutdownDelay time.Duration // bound on draining a closing connection
	IdleDelay     time.Duration // pause after a failed send

	ConnState ConnStateHandler
	Logger    Logger

	start   sync.Once
	stop    sync.Once
	started uint32
	closed  uint32

	wg     sync.WaitGroup
	done   chan struct{}
	exited chan struct{}
	err    error

	queue chan handoff

	mu   sync.Mutex
	ln   net.Listener
	sess *session
	gen  uint64

	stats counters
}

func (s *Server) init() {
	if s.Addr == "" {
		s.Addr = ":" + strconv.Itoa(DefaultPort)
	}
	if s.Bind == nil {
		s.Bind = BindTCP(s.Addr)
	}
	if s.QueueLength <= 0 {
		s.QueueLength = DefaultQueueLength
	}
	if s.ReadBufferSize <= 0 {
		s.ReadBufferSize = DefaultReadBufferSize
	}
	if s.Window == nil {
		w := DefaultWindow
		s.Window = &w
	}
	if s.ShutdownDelay <= 0 {
		s.ShutdownDelay = DefaultShutdownDelay
	}
	if s.IdleDelay <= 0 {
		s.IdleDelay = DefaultIdleDelay
	}
	if s.ConnState == nil {
		s.ConnState = DefaultConnStateHandler
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop().Sugar()
	}

	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	s.queue = make(chan handoff, s.QueueLength)
}

// Start creates the handoff queue and launches the receiver and the
// transmitter. It may be called once.
func (s *Server) Start() error {
	start := false
	s.start.Do(func() {
		start = true
		s.init()
		s.wg.Add(2)
		atomic.StoreUint32(&s.started, 1)
	})
	if !start {
		if atomic.LoadUint32(&s.closed) == 1 {
			return ErrServerClosed
		}
		return ErrServerStarted
	}

	go func() {
		defer s.wg.Done()
		defer close(s.exited)
		s.err = s.receive()
	}()
	go func() {
		defer s.wg.Done()
		s.transmit()
	}()

	return nil
}

// Wait blocks until the receiver stops, either because the server was shut
// down (nil) or because accepting a client failed (an error wrapping
// ErrAccept).
func (s *Server) Wait() error {
	if atomic.LoadUint32(&s.started) == 0 {
		return ErrServerClosed
	}
	<-s.exited
	return s.err
}

// Shutdown stops both workers, closing the listener and the active
// connection, and waits for them to exit. It is safe to call more than once.
func (s *Server) Shutdown() {
	once := false
	s.start.Do(func() {
		once = true
		atomic.StoreUint32(&s.closed, 1)
	})
	if once {
		return
	}

	stop := false
	s.stop.Do(func() { stop = true })
	if !stop {
		return
	}

	atomic.StoreUint32(&s.closed, 1)
	close(s.done)

	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	if s.sess != nil {
		s.sess.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) Stats() Stats { return s.stats.snapshot() }

func (s *Server) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// sleep pauses for d and reports false if the server shut down meanwhile.
func (s *Server) sleep(d time.Duration) bool {
	t := timerPool.acquire(d)
	defer timerPool.release(t)

	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}
