// Package sink implements the data-sink variants of §4.6: serial,
// virtual-COM, UDP datagram and append-only file. All satisfy Sink, the
// boundary the session manager drives (§6).
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/goblimey/nmea-bridge/connstate"
)

// ErrNotReady is returned by Write when the sink is not ready to accept
// data: before Start has finished, or after a fault (§4.6, §7).
var ErrNotReady = errors.New("sink: not ready")

// StateFunc is called once per state transition.
type StateFunc func(old, new connstate.State, msg string)

// Sink is the contract the session manager drives for an output transport.
type Sink interface {
	Name() string

	// InstanceID is a unique identifier minted when this sink was
	// constructed, for correlating log lines across reconnects without
	// relying on the (reused) configured Name.
	InstanceID() string

	State() connstate.State

	// Ready reports whether a Write is expected to succeed: state is
	// Connected and the underlying handle is live.
	Ready() bool

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Write sends one frame. All sinks flush per write.
	Write(ctx context.Context, data []byte) error
}

// StopGrace bounds how long Stop waits for background work to finish.
const StopGrace = 5 * time.Second

// base centralises state-machine bookkeeping shared by every Sink.
type base struct {
	name string
	id   string

	mu      sync.Mutex
	state   connstate.State
	stopped bool

	onState StateFunc
}

func newBase(name string, onState StateFunc) base {
	return base{name: name, id: xid.New().String(), state: connstate.Disconnected, onState: onState}
}

func (b *base) Name() string { return b.name }

func (b *base) InstanceID() string { return b.id }

func (b *base) State() connstate.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(new connstate.State, msg string) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	old := b.state
	b.state = new
	cb := b.onState
	b.mu.Unlock()

	if old == new {
		return
	}
	if cb != nil {
		cb(old, new, msg)
	}
}

func (b *base) markStopped() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *base) isConnected() bool {
	return b.State() == connstate.Connected
}
