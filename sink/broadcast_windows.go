//go:build windows

package sink

import "net"

// enableBroadcast is a no-op on Windows: SO_BROADCAST is set by default for
// UDP sockets, so no control call is needed.
func enableBroadcast(*net.UDPConn) error {
	return nil
}
