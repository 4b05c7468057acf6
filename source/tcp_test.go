package source

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goblimey/nmea-bridge/connstate"
)

// stateRecorder collects state transitions with a channel per target state
// so tests can wait for a specific transition without polling.
type stateRecorder struct {
	mu   sync.Mutex
	seen []connstate.State
	wait map[connstate.State]chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{wait: make(map[connstate.State]chan struct{})}
}

func (r *stateRecorder) onState(_, new connstate.State, _ string) {
	r.mu.Lock()
	r.seen = append(r.seen, new)
	ch := r.wait[new]
	r.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (r *stateRecorder) waitFor(t *testing.T, s connstate.State, timeout time.Duration) {
	t.Helper()
	r.mu.Lock()
	for _, seen := range r.seen {
		if seen == s {
			r.mu.Unlock()
			return
		}
	}
	ch := make(chan struct{}, 1)
	r.wait[s] = ch
	r.mu.Unlock()

	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for state %v", s)
	}
}

func TestTCPConnectsAndReceives(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("$GNGGA,1*00\r\n"))
		time.Sleep(500 * time.Millisecond)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	rec := newStateRecorder()

	dataCh := make(chan []byte, 1)
	c := NewTCP("test-tcp", TCPConfig{Host: "127.0.0.1", Port: addr.Port, ReconnectDelay: 50 * time.Millisecond},
		func(data []byte, _ time.Time) { dataCh <- data },
		rec.onState)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())

	rec.waitFor(t, connstate.Connected, 2*time.Second)

	select {
	case <-dataCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestTCPReconnectsAfterServerRestart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	rec := newStateRecorder()
	c := NewTCP("test-tcp", TCPConfig{Host: "127.0.0.1", Port: port, ReconnectDelay: 50 * time.Millisecond},
		nil, rec.onState)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())

	rec.waitFor(t, connstate.Connected, 2*time.Second)
	ln.Close()
	rec.waitFor(t, connstate.Reconnecting, 2*time.Second)

	ln2, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Skipf("could not rebind port %d for reconnect test: %v", port, err)
	}
	defer ln2.Close()
	go func() {
		conn, err := ln2.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}()

	rec.waitFor(t, connstate.Connected, 3*time.Second)
}

func TestTCPStopIsQuiet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	c := NewTCP("test-tcp", TCPConfig{Host: "127.0.0.1", Port: addr.Port, ReconnectDelay: 50 * time.Millisecond}, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != connstate.Disconnected {
		t.Fatalf("state = %v, want Disconnected", c.State())
	}
}
