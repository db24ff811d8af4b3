//go:build !unix

package echo

import "syscall"

func reuseControl(network, address string, c syscall.RawConn) error { return nil }
