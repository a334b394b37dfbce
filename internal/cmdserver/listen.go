package cmdserver

import (
	"context"
	"net"
	"syscall"
)

// listenReuse binds a TCP listener, optionally setting SO_REUSEADDR (spec
// §6's `-R` flag) via a Control callback on net.ListenConfig.
func listenReuse(addr string, reuseAddr bool) (net.Listener, error) {
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
