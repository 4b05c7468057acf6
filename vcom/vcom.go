// Package vcom implements the virtual-COM provider abstraction (§4.6, §9,
// C10): a serial-like endpoint that other processes can read from, backed
// either by a true paired serial port already present on the host, or by a
// pseudo-terminal pair used as a named-pipe fallback.
package vcom

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// Provider is a serial-like write endpoint with an external path that a
// reading client connects to.
type Provider interface {
	Open(ctx context.Context) error
	Close() error
	Write(data []byte) error
	IsReady() bool
	// Endpoint returns the path or port name a client should read from.
	Endpoint() string
}

// Config selects and configures a virtual-COM provider.
type Config struct {
	// WritePortName, if set, names a serial device that is expected to
	// already be one half of a true paired serial port (for example a
	// com0com or socat-created pair). If the port is present on the host,
	// the paired backend is used; otherwise the pty-pair fallback is used.
	WritePortName string

	// BaudRate configures the paired-serial backend. Defaults to 115200.
	BaudRate int
}

// New selects a provider by probing the host for the configured paired
// serial port, falling back to a pty pair when it is absent.
func New(cfg Config) (Provider, error) {
	if cfg.WritePortName != "" {
		ports, err := serial.GetPortsList()
		if err == nil {
			for _, p := range ports {
				if p == cfg.WritePortName {
					return newPairedSerial(cfg), nil
				}
			}
		}
	}
	return newPtyPair()
}

func newPairedSerial(cfg Config) Provider {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 115200
	}
	return &pairedSerial{portName: cfg.WritePortName, baudRate: baud}
}

type pairedSerial struct {
	portName string
	baudRate int
	port     serial.Port
	watch    *devWatcher
}

func (p *pairedSerial) Open(context.Context) error {
	port, err := serial.Open(p.portName, &serial.Mode{BaudRate: p.baudRate})
	if err != nil {
		return fmt.Errorf("vcom: open paired serial %s: %w", p.portName, err)
	}
	p.port = port

	// Best-effort: if the host can't watch the device node (e.g. it lives
	// outside a watchable directory), fall back to write-failure detection.
	if watch, err := watchDeviceRemoval(p.portName); err == nil {
		p.watch = watch
	}
	return nil
}

func (p *pairedSerial) Close() error {
	if p.watch != nil {
		p.watch.stop()
		p.watch = nil
	}
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

func (p *pairedSerial) Write(data []byte) error {
	if p.port == nil {
		return fmt.Errorf("vcom: paired serial %s not open", p.portName)
	}
	_, err := p.port.Write(data)
	return err
}

func (p *pairedSerial) IsReady() bool {
	if p.port == nil {
		return false
	}
	if p.watch != nil {
		select {
		case <-p.watch.gone:
			return false
		default:
		}
	}
	return true
}

func (p *pairedSerial) Endpoint() string {
	return p.portName
}
