package echo

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the standard echo port.
const DefaultPort = 7

type BindFunc func() (net.Listener, error)

// BindTCP opens a TCP listener on addr with address reuse enabled, so the
// receiver can rebind the same port right after closing a connection.
func BindTCP(addr string) BindFunc {
	return func() (net.Listener, error) {
		lc := net.ListenConfig{Control: reuseControl}
		return lc.Listen(context.Background(), "tcp", addr)
	}
}

func HostAddr(host net.IP, port uint16) string {
	h := ""
	if len(host) > 0 {
		h = host.String()
	}
	p := strconv.FormatUint(uint64(port), 10)
	return net.JoinHostPort(h, p)
}

// FreeAddr returns a loopback address with a port that was free at the time
// of the call.
func FreeAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("unable to listen on any port: %w", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	if err := ln.Close(); err != nil {
		return "", fmt.Errorf("failed to close listener for getting available port: %w", err)
	}
	return HostAddr(addr.IP, uint16(addr.Port)), nil
}
