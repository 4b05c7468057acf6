package session

import (
	"github.com/goblimey/nmea-bridge/filter"
	"github.com/goblimey/nmea-bridge/ratelimit"
	"github.com/goblimey/nmea-bridge/sink"
	"github.com/goblimey/nmea-bridge/source"
	"github.com/goblimey/nmea-bridge/vcom"
)

// InputKind selects which source variant an InputSpec configures.
type InputKind int

const (
	InputUDP InputKind = iota
	InputTCP
)

// InputSpec is the sum-typed input half of a session configuration (§3).
type InputSpec struct {
	Kind InputKind
	UDP  source.UDPConfig
	TCP  source.TCPConfig
}

// OutputKind selects which sink variant an OutputSpec configures.
type OutputKind int

const (
	OutputSerial OutputKind = iota
	OutputVCOM
	OutputUDP
	OutputFile
)

// OutputSpec is one entry in the sum-typed list of session outputs (§3).
type OutputSpec struct {
	Name    string
	Kind    OutputKind
	Enabled bool

	Serial sink.SerialConfig
	VCOM   vcom.Config
	UDP    sink.UDPConfig
	File   sink.FileConfig
}

// Config is the immutable configuration a session is started with (§3).
// It is not mutated for the lifetime of a session.
type Config struct {
	Input     InputSpec
	Outputs   []OutputSpec
	Filter    *filter.Config
	RateLimit *ratelimit.Config
}
