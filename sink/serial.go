package sink

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/goblimey/nmea-bridge/connstate"
)

// SerialConfig configures a physical serial-port sink (§3, §4.6, §6).
type SerialConfig struct {
	PortName string
	BaudRate int // default 115200 if zero
	DataBits int // default 8 if zero
	Parity   serial.Parity
	StopBits serial.StopBits
}

// Serial writes sentences to a physical serial port at 8-N-1 by default.
// go.bug.st/serial writes are unbuffered, so Write already behaves as a
// flush-per-write.
type Serial struct {
	base
	cfg SerialConfig

	mu   sync.Mutex
	port serial.Port
}

var _ Sink = (*Serial)(nil)

// NewSerial creates a serial sink. onState may be nil.
func NewSerial(name string, cfg SerialConfig, onState StateFunc) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	return &Serial{base: newBase(name, onState), cfg: cfg}
}

func (s *Serial) Start(context.Context) error {
	s.setState(connstate.Connecting, "")

	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		Parity:   s.cfg.Parity,
		StopBits: s.cfg.StopBits,
	}

	port, err := serial.Open(s.cfg.PortName, mode)
	if err != nil {
		s.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: open %s: %w", s.Name(), s.cfg.PortName, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()

	s.setState(connstate.Connected, "")
	return nil
}

func (s *Serial) Stop(context.Context) error {
	s.setState(connstate.Disconnected, "")
	s.markStopped()

	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()

	if port != nil {
		return port.Close()
	}
	return nil
}

func (s *Serial) Ready() bool {
	s.mu.Lock()
	hasPort := s.port != nil
	s.mu.Unlock()
	return s.isConnected() && hasPort
}

func (s *Serial) Write(_ context.Context, data []byte) error {
	if !s.Ready() {
		return ErrNotReady
	}

	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotReady
	}

	if _, err := port.Write(data); err != nil {
		s.setState(connstate.Error, err.Error())
		return fmt.Errorf("sink %s: write: %w", s.Name(), err)
	}
	return nil
}
