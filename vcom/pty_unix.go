//go:build !windows

package vcom

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
)

// ptyPair is the named-pipe fallback: writes go to the master side of a
// pseudo-terminal pair, and a client reads from the slave device. A write
// that fails on the master side is dropped silently, and the pair reports
// not ready until a later write succeeds. The pair keeps its own slave
// handle open until Close, so it does not detect whether an outside client
// has the slave open.
type ptyPair struct {
	mu     sync.Mutex
	master *os.File
	slave  *os.File
	ready  bool
}

func newPtyPair() (Provider, error) {
	return &ptyPair{}, nil
}

func (p *ptyPair) Open(context.Context) error {
	master, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("vcom: open pty pair: %w", err)
	}

	p.mu.Lock()
	p.master = master
	p.slave = slave
	p.ready = true
	p.mu.Unlock()
	return nil
}

func (p *ptyPair) Close() error {
	p.mu.Lock()
	master, slave := p.master, p.slave
	p.master, p.slave, p.ready = nil, nil, false
	p.mu.Unlock()

	var err error
	if master != nil {
		err = master.Close()
	}
	if slave != nil {
		if serr := slave.Close(); err == nil {
			err = serr
		}
	}
	return err
}

// Write silently drops data (returning nil) when the write to the master
// side fails, marking the pair not ready; it marks the pair ready again as
// soon as a write succeeds. Whether a client has the slave open is not
// checked.
func (p *ptyPair) Write(data []byte) error {
	p.mu.Lock()
	master := p.master
	p.mu.Unlock()

	if master == nil {
		return fmt.Errorf("vcom: pty pair not open")
	}

	_, err := master.Write(data)

	p.mu.Lock()
	p.ready = err == nil
	p.mu.Unlock()

	if err != nil {
		return nil
	}
	return nil
}

func (p *ptyPair) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *ptyPair) Endpoint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slave == nil {
		return ""
	}
	return p.slave.Name()
}
