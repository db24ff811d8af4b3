package echo

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type ConnState int

const (
	StateListening ConnState = iota
	StateNew
	StateShutdown
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateNew:
		return "new"
	case StateShutdown:
		return "shutdown"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnStateHandler observes the receiver's connection state machine. The
// listening state reports the listener address, the others the remote one.
type ConnStateHandler interface {
	HandleConnState(addr net.Addr, state ConnState)
}

type ConnStateHandlerFunc func(addr net.Addr, state ConnState)

func (fn ConnStateHandlerFunc) HandleConnState(addr net.Addr, state ConnState) { fn(addr, state) }

var DefaultConnStateHandler ConnStateHandlerFunc = func(addr net.Addr, state ConnState) {}

// Logger is satisfied by *zap.SugaredLogger.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type closeWriter interface {
	CloseWrite() error
}

// session is one accepted connection. The receiver creates and closes it; the
// transmitter only writes to it through the handoff items that reference it.
type session struct {
	conn net.Conn
	gen  uint64

	closed   uint32
	shutOnce sync.Once
	shutErr  error

	closeOnce sync.Once
	closeErr  error
}

func newSession(conn net.Conn, gen uint64) *session {
	return &session{conn: conn, gen: gen}
}

func (s *session) isClosed() bool { return atomic.LoadUint32(&s.closed) == 1 }

// write calls Write until all of buf is written or Write fails, returning the
// number of bytes accepted by the connection.
func (s *session) write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.conn.Write(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// shutdown half-closes the connection and drains it until the peer closes its
// side or the delay expires. Only the first call does any work.
func (s *session) shutdown(buf []byte, delay time.Duration) error {
	s.shutOnce.Do(func() {
		if cw, ok := s.conn.(closeWriter); ok {
			if err := cw.CloseWrite(); err != nil {
				s.shutErr = err
				return
			}
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(delay)); err != nil {
			s.shutErr = err
			return
		}

		for {
			if _, err := s.conn.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) && !isTimeout(err) {
					s.shutErr = err
				}
				return
			}
		}
	})
	return s.shutErr
}

func (s *session) close() error {
	s.closeOnce.Do(func() {
		atomic.StoreUint32(&s.closed, 1)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
