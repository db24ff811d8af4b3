package echo

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errInjected = errors.New("injected write failure")

func startServer(t testing.TB, srv *Server) string {
	if srv.Addr == "" {
		addr, err := FreeAddr()
		require.NoError(t, err)
		srv.Addr = addr
	}
	if srv.Logger == nil {
		srv.Logger = zaptest.NewLogger(t).Sugar()
	}
	if srv.IdleDelay == 0 {
		srv.IdleDelay = 10 * time.Millisecond
	}
	require.NoError(t, srv.Start())
	return srv.Addr
}

func dial(t testing.TB, addr string) net.Conn {
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return conn
}

func readN(t testing.TB, conn net.Conn, n int) string {
	buf := make([]byte, n)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

func readReply(t testing.TB, conn net.Conn, count uint32) string {
	return readN(t, conn, len(FormatReply(count)))
}

// sendChunk writes one chunk and waits for the server to have read it, so
// consecutive chunks are never coalesced into a single read.
func sendChunk(t testing.TB, srv *Server, conn net.Conn, chunk string) {
	before := srv.Stats().Received
	_, err := conn.Write([]byte(chunk))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return srv.Stats().Received > before
	}, 5*time.Second, time.Millisecond)
}

type stateRecorder struct {
	ch chan ConnState
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan ConnState, 64)}
}

func (r *stateRecorder) HandleConnState(addr net.Addr, state ConnState) {
	select {
	case r.ch <- state:
	default:
	}
}

func (r *stateRecorder) await(t testing.TB, want ConnState, timeout time.Duration) {
	deadline := time.After(timeout)
	for {
		select {
		case state := <-r.ch:
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for conn state %s", want)
		}
	}
}

type wrapListener struct {
	net.Listener
	wrap func(net.Conn) net.Conn
}

func (l *wrapListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return l.wrap(conn), nil
}

func wrapBind(addr string, wrap func(net.Conn) net.Conn) BindFunc {
	bind := BindTCP(addr)
	return func() (net.Listener, error) {
		ln, err := bind()
		if err != nil {
			return nil, err
		}
		return &wrapListener{Listener: ln, wrap: wrap}, nil
	}
}

type gate struct {
	ch      chan struct{}
	once    sync.Once
	waiting int32 // writes that reached the gate
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) blocked() int32 { return atomic.LoadInt32(&g.waiting) }

// faultyConn injects write behaviour: at most chunk bytes per Write, a failure
// on the failOn-th Write call, and an optional gate every Write waits on.
type faultyConn struct {
	net.Conn

	chunk  int
	failOn int
	gate   *gate

	mu     sync.Mutex
	writes int
}

func (c *faultyConn) Write(p []byte) (int, error) {
	if c.gate != nil {
		atomic.AddInt32(&c.gate.waiting, 1)
		<-c.gate.ch
	}

	c.mu.Lock()
	c.writes++
	n := c.writes
	c.mu.Unlock()

	if n == c.failOn {
		return 0, errInjected
	}
	if c.chunk > 0 && len(p) > c.chunk {
		p = p[:c.chunk]
	}
	return c.Conn.Write(p)
}

func (c *faultyConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

type failingListener struct{}

func (failingListener) Accept() (net.Conn, error) { return nil, errors.New("listener is broken") }
func (failingListener) Close() error              { return nil }
func (failingListener) Addr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
