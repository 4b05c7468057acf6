//go:build linux || darwin || freebsd || netbsd || openbsd

package sink

import (
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on the connection's underlying file
// descriptor. The standard net package exposes no public API for this, so
// we reach the fd via SyscallConn, as golang.org/x/sys/unix is meant to be
// used.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
