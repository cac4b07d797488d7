package server

import (
	"syscall"
)

// reuseAddrControl sets SO_REUSEADDR on the listening socket before bind,
// so a restarted process can rebind the configured port immediately
// instead of waiting out TIME_WAIT.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
