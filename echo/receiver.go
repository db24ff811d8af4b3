package echo

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
)

// receive runs the connection state machine: listen, accept one client, read
// until the connection fails, shut it down, and start over.
func (s *Server) receive() error {
	buf := make([]byte, s.ReadBufferSize)

	b := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    100 * time.Millisecond,
		Max:    1 * time.Second,
	}

	for {
		ln, err := s.Bind()
		if err != nil {
			if s.isDone() {
				return nil
			}

			duration := b.Duration()
			s.Logger.Errorw("failed to open listener", "addr", s.Addr, "err", err, "retry_in", duration)

			if !s.sleep(duration) {
				return nil
			}
			continue
		}
		b.Reset()

		if !s.trackListener(ln) {
			ln.Close()
			return nil
		}

		s.Logger.Debugw("listening", "addr", ln.Addr().String())
		s.ConnState.HandleConnState(ln.Addr(), StateListening)

		conn, err := ln.Accept()

		// The listener only ever hands out one connection.
		s.untrackListener()
		ln.Close()

		if err != nil {
			if s.isDone() {
				return nil
			}
			return fmt.Errorf("%w on '%s': %v", ErrAccept, ln.Addr(), err)
		}

		sess := s.openSession(conn)
		if sess == nil {
			conn.Close()
			return nil
		}

		atomic.AddUint64(&s.stats.accepted, 1)
		if tc, ok := conn.(*net.TCPConn); ok {
			s.applyWindow(tc)
		}

		s.Logger.Infow("connected to client", "addr", conn.RemoteAddr().String(), "conn", sess.gen)
		s.ConnState.HandleConnState(conn.RemoteAddr(), StateNew)

		s.serve(sess, buf)
		s.closeSession(sess, buf)

		if s.isDone() {
			return nil
		}
	}
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDone() {
		return false
	}
	s.ln = ln
	return true
}

func (s *Server) untrackListener() {
	s.mu.Lock()
	s.ln = nil
	s.mu.Unlock()
}

func (s *Server) openSession(conn net.Conn) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDone() {
		return nil
	}

	s.gen++
	sess := newSession(conn, s.gen)
	s.sess = sess

	return sess
}

func (s *Server) applyWindow(tc *net.TCPConn) {
	w := s.Window
	if w.RxBufSize > 0 {
		if err := tc.SetReadBuffer(w.RxBufSize * max(w.RxWinSize, 1)); err != nil {
			s.Logger.Debugw("failed to size receive buffer", "err", err)
		}
	}
	if w.TxBufSize > 0 {
		if err := tc.SetWriteBuffer(w.TxBufSize * max(w.TxWinSize, 1)); err != nil {
			s.Logger.Debugw("failed to size send buffer", "err", err)
		}
	}
}

// serve reads until the connection fails, queueing one item per read. A full
// queue blocks the read loop until the transmitter catches up.
func (s *Server) serve(sess *session, buf []byte) {
	if err := sess.conn.SetReadDeadline(time.Time{}); err != nil {
		s.Logger.Debugw("failed to clear read deadline", "conn", sess.gen, "err", err)
	}

	var count uint32

	for {
		clear(buf)

		n, err := sess.conn.Read(buf)
		if err == nil || n > 0 {
			count++
			atomic.AddUint64(&s.stats.received, 1)

			s.Logger.Debugw("received data", "conn", sess.gen, "count", count, "bytes", n)

			select {
			case s.queue <- handoff{count: count, sess: sess}:
			case <-s.done:
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.Logger.Debugw("receive ended", "conn", sess.gen, "err", err)
			} else {
				s.Logger.Infow("receive failed", "conn", sess.gen, "err", err)
			}
			return
		}
	}
}

func (s *Server) closeSession(sess *session, buf []byte) {
	addr := sess.conn.RemoteAddr()

	s.ConnState.HandleConnState(addr, StateShutdown)

	if err := sess.shutdown(buf, s.ShutdownDelay); err != nil && !errors.Is(err, net.ErrClosed) {
		s.Logger.Debugw("shutdown did not complete cleanly", "conn", sess.gen, "err", err)
	}
	if err := sess.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.Logger.Debugw("close failed", "conn", sess.gen, "err", err)
	}

	s.mu.Lock()
	if s.sess == sess {
		s.sess = nil
	}
	s.mu.Unlock()

	s.Logger.Infow("socket closed, waiting for the next client", "addr", addr.String(), "conn", sess.gen)
	s.ConnState.HandleConnState(addr, StateClosed)
}
