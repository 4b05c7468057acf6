package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/goblimey/nmea-bridge/connstate"
	"github.com/goblimey/nmea-bridge/vcom"
)

// VCOM writes sentences to a virtual-COM endpoint, delegating the choice
// of true paired-serial-port vs pty-pair fallback to vcom.New.
type VCOM struct {
	base
	cfg vcom.Config

	mu       sync.Mutex
	provider vcom.Provider
}

var _ Sink = (*VCOM)(nil)

// NewVCOM creates a virtual-COM sink. onState may be nil.
func NewVCOM(name string, cfg vcom.Config, onState StateFunc) *VCOM {
	return &VCOM{base: newBase(name, onState), cfg: cfg}
}

func (v *VCOM) Start(ctx context.Context) error {
	v.setState(connstate.Connecting, "")

	provider, err := vcom.New(v.cfg)
	if err != nil {
		v.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: select provider: %w", v.Name(), err)
	}
	if err := provider.Open(ctx); err != nil {
		v.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: open: %w", v.Name(), err)
	}

	v.mu.Lock()
	v.provider = provider
	v.mu.Unlock()

	v.setState(connstate.Connected, "")
	return nil
}

func (v *VCOM) Stop(context.Context) error {
	v.setState(connstate.Disconnected, "")
	v.markStopped()

	v.mu.Lock()
	provider := v.provider
	v.provider = nil
	v.mu.Unlock()

	if provider != nil {
		return provider.Close()
	}
	return nil
}

func (v *VCOM) Ready() bool {
	v.mu.Lock()
	provider := v.provider
	v.mu.Unlock()
	return v.isConnected() && provider != nil && provider.IsReady()
}

// Endpoint returns the path or port name a client should connect to, or
// empty before Start.
func (v *VCOM) Endpoint() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.provider == nil {
		return ""
	}
	return v.provider.Endpoint()
}

func (v *VCOM) Write(_ context.Context, data []byte) error {
	v.mu.Lock()
	provider := v.provider
	v.mu.Unlock()
	if provider == nil || !v.isConnected() {
		return ErrNotReady
	}

	if err := provider.Write(data); err != nil {
		v.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: write: %w", v.Name(), err)
	}
	return nil
}
