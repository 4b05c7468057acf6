// Package source implements the data-source variants of §4.5: a UDP
// listener and a reconnecting TCP client. Both satisfy Source, the
// boundary the session manager drives (§6).
package source

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/goblimey/nmea-bridge/connstate"
)

// DataFunc is called once per received chunk, with the time it arrived.
// Implementations must not call it after Stop has returned, and callers
// must not block indefinitely in it (§9).
type DataFunc func(data []byte, receivedAt time.Time)

// StateFunc is called once per state transition. msg is non-empty only
// when the transition is accompanied by an explanatory message (e.g. an
// error).
type StateFunc func(old, new connstate.State, msg string)

// Source is the contract the session manager drives for an input transport.
type Source interface {
	// Name identifies this source instance for logging.
	Name() string

	// InstanceID is a unique identifier minted when this source was
	// constructed, for correlating log lines across reconnects without
	// relying on the (reused) configured Name.
	InstanceID() string

	// State returns the current connection state.
	State() connstate.State

	// Start begins producing data and state events. It returns once the
	// source has started its background work (for UDP, once bound; for
	// TCP, once the reconnect loop has been launched).
	Start(ctx context.Context) error

	// Stop halts all background work and waits for it to finish, bounded
	// by a 5s grace period. It is idempotent.
	Stop(ctx context.Context) error
}

// StopGrace bounds how long Stop waits for background work to finish.
const StopGrace = 5 * time.Second

// base centralises the state-machine bookkeeping and callback dispatch
// shared by every Source implementation.
type base struct {
	name string
	id   string

	mu    sync.Mutex
	state connstate.State

	onData  DataFunc
	onState StateFunc

	stopped bool
}

func newBase(name string, onData DataFunc, onState StateFunc) base {
	return base{name: name, id: xid.New().String(), state: connstate.Disconnected, onData: onData, onState: onState}
}

func (b *base) Name() string { return b.name }

func (b *base) InstanceID() string { return b.id }

func (b *base) State() connstate.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState transitions the state and fires onState, unless Stop has
// already returned (never call user-visible callbacks after stop).
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

// emit delivers a chunk to onData, unless Stop has already returned.
func (b *base) emit(data []byte, at time.Time) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	cb := b.onData
	b.mu.Unlock()

	if cb != nil {
		cb(data, at)
	}
}

// markStopped prevents any further callback delivery. Called once Stop has
// finished waiting for background work.
func (b *base) markStopped() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}
