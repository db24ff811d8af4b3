package echo

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

func sockBuf(t testing.TB, tc *net.TCPConn, opt int) int {
	raw, err := tc.SyscallConn()
	require.NoError(t, err)

	var size int
	var serr error
	require.NoError(t, raw.Control(func(fd uintptr) {
		size, serr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, opt)
	}))
	require.NoError(t, serr)
	return size
}

func TestServerAppliesWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	addr, err := FreeAddr()
	require.NoError(t, err)

	accepted := make(chan *net.TCPConn, 1)
	states := newStateRecorder()

	srv := &Server{
		Addr:      addr,
		ConnState: states,
		Window:    &WindowProps{RxBufSize: 8192, RxWinSize: 3, TxBufSize: 8192, TxWinSize: 2},
		Bind: wrapBind(addr, func(c net.Conn) net.Conn {
			accepted <- c.(*net.TCPConn)
			return c
		}),
	}
	startServer(t, srv)
	defer srv.Shutdown()

	conn := dial(t, addr)
	defer conn.Close()

	states.await(t, StateNew, 5*time.Second)
	tc := <-accepted

	// Linux reports twice the requested size to account for bookkeeping.
	require.GreaterOrEqual(t, sockBuf(t, tc, unix.SO_RCVBUF), 3*8192)
	require.GreaterOrEqual(t, sockBuf(t, tc, unix.SO_SNDBUF), 2*8192)
}
