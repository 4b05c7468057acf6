package source

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/goblimey/nmea-bridge/connstate"
)

// UDPConfig configures a UDP listener source (§3, §4.5).
type UDPConfig struct {
	// Port to bind.
	Port int
	// BindAddress is the optional local address to bind to; empty means
	// all interfaces.
	BindAddress string
}

// udpReadBufferSize is large enough for the largest possible UDP datagram.
const udpReadBufferSize = 65536

// UDP is a data source that binds a UDP socket and emits one dataReceived
// event per received datagram.
type UDP struct {
	base
	cfg    UDPConfig
	conn   *net.UDPConn
	closed atomic.Bool
	done   chan struct{}
}

var _ Source = (*UDP)(nil)

// NewUDP creates a UDP source. onData and onState may be nil.
func NewUDP(name string, cfg UDPConfig, onData DataFunc, onState StateFunc) *UDP {
	return &UDP{base: newBase(name, onData, onState), cfg: cfg}
}

// Start binds the socket and begins the receive loop. It returns once bound.
func (u *UDP) Start(ctx context.Context) error {
	u.setState(connstate.Connecting, "")

	addr := &net.UDPAddr{Port: u.cfg.Port}
	if u.cfg.BindAddress != "" {
		ip := net.ParseIP(u.cfg.BindAddress)
		if ip == nil {
			err := fmt.Errorf("source %s: invalid bind address %q", u.Name(), u.cfg.BindAddress)
			u.setState(connstate.Error, err.Error())
			return err
		}
		addr.IP = ip
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		u.setState(connstate.Error, err.Error())
		return err
	}
	u.conn = conn
	u.done = make(chan struct{})

	u.setState(connstate.Connected, "")
	go u.receiveLoop()
	return nil
}

func (u *UDP) receiveLoop() {
	defer close(u.done)

	buf := make([]byte, udpReadBufferSize)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.closed.Load() {
				// The socket was closed by Stop: a normal shutdown, not an error.
				return
			}
			u.setState(connstate.Error, err.Error())
			continue
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		u.emit(chunk, time.Now())
	}
}

// Stop closes the socket and waits for the receive loop to exit, bounded by
// a 5s grace period.
func (u *UDP) Stop(context.Context) error {
	u.closed.Store(true)
	if u.conn != nil {
		u.conn.Close()
	}

	if u.done != nil {
		select {
		case <-u.done:
		case <-time.After(StopGrace):
		}
	}

	u.setState(connstate.Disconnected, "")
	u.markStopped()
	return nil
}
