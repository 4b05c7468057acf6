package sink

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/goblimey/nmea-bridge/connstate"
)

// UDPConfig configures a UDP datagram sink (§3, §4.6, §6).
type UDPConfig struct {
	Address   string
	Port      int
	Broadcast bool
}

// UDP writes each sentence as one datagram to a destination resolved once
// at Start (a literal address, else the first A-record).
type UDP struct {
	base
	cfg UDPConfig

	mu   sync.Mutex
	conn *net.UDPConn
}

var _ Sink = (*UDP)(nil)

// NewUDP creates a UDP datagram sink. onState may be nil.
func NewUDP(name string, cfg UDPConfig, onState StateFunc) *UDP {
	return &UDP{base: newBase(name, onState), cfg: cfg}
}

func (u *UDP) Start(context.Context) error {
	u.setState(connstate.Connecting, "")

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.cfg.Address, strconv.Itoa(u.cfg.Port)))
	if err != nil {
		u.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: resolve %s: %w", u.Name(), u.cfg.Address, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		u.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: dial %s: %w", u.Name(), addr, err)
	}

	if u.cfg.Broadcast {
		if err := enableBroadcast(conn); err != nil {
			conn.Close()
			u.setState(connstate.Error, err.Error())
			return fmt.Errorf("sink %s: enable broadcast: %w", u.Name(), err)
		}
	}

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()

	u.setState(connstate.Connected, "")
	return nil
}

func (u *UDP) Stop(context.Context) error {
	u.setState(connstate.Disconnected, "")
	u.markStopped()

	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (u *UDP) Ready() bool {
	u.mu.Lock()
	hasConn := u.conn != nil
	u.mu.Unlock()
	return u.isConnected() && hasConn
}

func (u *UDP) Write(_ context.Context, data []byte) error {
	if !u.Ready() {
		return ErrNotReady
	}

	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}

	if _, err := conn.Write(data); err != nil {
		u.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: write: %w", u.Name(), err)
	}
	return nil
}
