package dataserver

import (
	"context"
	"net"
	"syscall"
)

// reuseAddrListen binds a TCP listener, optionally setting SO_REUSEADDR
// (spec §6's `-R` flag).
func reuseAddrListen(addr string, reuseAddr bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if reuseAddr {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setReuseAddr(fd)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
