package source

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dolmen-go/contextio"

	"github.com/goblimey/nmea-bridge/connstate"
)

// TCPConfig configures a reconnecting TCP client source (§3, §4.5).
type TCPConfig struct {
	Host           string
	Port           int
	ReconnectDelay time.Duration
}

const tcpReadBufferSize = 4096

// TCP is a data source that connects to (Host, Port), reads a byte stream
// and reconnects with a fixed delay on any I/O error or remote close.
type TCP struct {
	base
	cfg TCPConfig

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc

	stopping atomic.Bool
	done     chan struct{}
}

var _ Source = (*TCP)(nil)

// NewTCP creates a TCP client source. onData and onState may be nil.
func NewTCP(name string, cfg TCPConfig, onData DataFunc, onState StateFunc) *TCP {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &TCP{base: newBase(name, onData, onState), cfg: cfg}
}

// Start launches the reconnect loop in the background and returns immediately.
func (t *TCP) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.reconnectLoop(loopCtx)
	return nil
}

func (t *TCP) reconnectLoop(ctx context.Context) {
	defer close(t.done)

	for {
		if ctx.Err() != nil {
			return
		}

		t.setState(connstate.Connecting, "")
		addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
		dialer := net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return // cancellation is a normal shutdown, never an error
			}
			t.setState(connstate.Reconnecting, err.Error())
			if !t.sleep(ctx, t.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		t.setState(connstate.Connected, "")
		t.readLoop(ctx, conn)

		conn.Close()

		if ctx.Err() != nil {
			return
		}

		t.setState(connstate.Reconnecting, "")
		if !t.sleep(ctx, t.cfg.ReconnectDelay) {
			return
		}
	}
}

// readLoop reads chunks until the connection dies or ctx is cancelled.
func (t *TCP) readLoop(ctx context.Context, conn net.Conn) {
	reader := contextio.NewReader(ctx, conn)
	buf := make([]byte, tcpReadBufferSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.emit(chunk, time.Now())
		}
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// sleep waits for d or until ctx is cancelled, returning false on cancellation.
func (t *TCP) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop cancels the reconnect loop, closes any live connection to unblock a
// pending read, and waits for the loop to exit, bounded by a 5s grace period.
func (t *TCP) Stop(context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	if t.done != nil {
		select {
		case <-t.done:
		case <-time.After(StopGrace):
		}
	}

	t.setState(connstate.Disconnected, "")
	t.markStopped()
	return nil
}

