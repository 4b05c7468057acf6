// Package config reads the bridge's JSON configuration file and builds a
// session.Config from it, following the same json-tagged struct plus
// validating-parse approach as the teacher lineage's jsonconfig package.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"

	"github.com/goblimey/nmea-bridge/filter"
	"github.com/goblimey/nmea-bridge/ratelimit"
	"github.com/goblimey/nmea-bridge/session"
	"github.com/goblimey/nmea-bridge/sink"
	"github.com/goblimey/nmea-bridge/source"
	"github.com/goblimey/nmea-bridge/vcom"
)

// File is the on-disk JSON shape of the bridge's configuration.
type File struct {
	Input   InputFile    `json:"input"`
	Outputs []OutputFile `json:"outputs"`

	Filter    *FilterFile    `json:"filter,omitempty"`
	RateLimit *RateLimitFile `json:"rate_limit,omitempty"`

	Telemetry *TelemetryFile `json:"telemetry,omitempty"`
}

// InputFile configures the session's single data source.
type InputFile struct {
	// Kind is "udp" or "tcp".
	Kind string `json:"kind"`

	Port        int    `json:"port"`
	BindAddress string `json:"bind_address"`

	Host             string `json:"host"`
	ReconnectDelayMs int    `json:"reconnect_delay_ms"`
}

// OutputFile configures one sink. Kind is "serial", "vcom", "udp" or "file".
type OutputFile struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`

	// Serial and VCOM.
	PortName string  `json:"port_name"`
	BaudRate int     `json:"baud_rate"`
	DataBits int     `json:"data_bits"`
	Parity   string  `json:"parity"`
	StopBits float32 `json:"stop_bits"`

	// UDP.
	Address   string `json:"address"`
	UDPPort   int    `json:"udp_port"`
	Broadcast bool   `json:"broadcast"`

	// File.
	Path            string `json:"path"`
	AppendTimestamp bool   `json:"append_timestamp"`
	RotateDaily     bool   `json:"rotate_daily"`
}

// FilterFile configures the allow/block policy (§3, §4.2).
type FilterFile struct {
	// Mode is "allow-all", "allow-list" or "block-list".
	Mode  string   `json:"mode"`
	Allow []string `json:"allow,omitempty"`
	Block []string `json:"block,omitempty"`
}

// RateLimitFile configures the rate limiter (§3, §4.3).
type RateLimitFile struct {
	MaxHz   float64 `json:"max_hz"`
	PerType bool    `json:"per_type"`
}

// TelemetryFile configures the optional status/metrics endpoints.
type TelemetryFile struct {
	ControlHost string `json:"control_host"`
	ControlPort int    `json:"control_port"`
	MetricsAddr string `json:"metrics_addr"`
	EventLogDir string `json:"event_log_dir"`
}

// Load reads and parses the JSON configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// BuildSessionConfig converts the parsed file into a session.Config,
// validating enumerated fields along the way.
func (f *File) BuildSessionConfig() (session.Config, error) {
	input, err := f.buildInput()
	if err != nil {
		return session.Config{}, err
	}

	outputs := make([]session.OutputSpec, 0, len(f.Outputs))
	for _, o := range f.Outputs {
		spec, err := o.build()
		if err != nil {
			return session.Config{}, err
		}
		outputs = append(outputs, spec)
	}

	cfg := session.Config{Input: input, Outputs: outputs}

	if f.Filter != nil {
		filterCfg, err := f.Filter.build()
		if err != nil {
			return session.Config{}, err
		}
		cfg.Filter = filterCfg
	}

	if f.RateLimit != nil {
		cfg.RateLimit = &ratelimit.Config{MaxHz: f.RateLimit.MaxHz, PerType: f.RateLimit.PerType}
	}

	return cfg, nil
}

func (f *File) buildInput() (session.InputSpec, error) {
	switch f.Input.Kind {
	case "udp":
		return session.InputSpec{
			Kind: session.InputUDP,
			UDP:  source.UDPConfig{Port: f.Input.Port, BindAddress: f.Input.BindAddress},
		}, nil
	case "tcp":
		delay := time.Duration(f.Input.ReconnectDelayMs) * time.Millisecond
		return session.InputSpec{
			Kind: session.InputTCP,
			TCP:  source.TCPConfig{Host: f.Input.Host, Port: f.Input.Port, ReconnectDelay: delay},
		}, nil
	default:
		return session.InputSpec{}, fmt.Errorf("config: input kind must be \"udp\" or \"tcp\", got %q", f.Input.Kind)
	}
}

func (o *OutputFile) build() (session.OutputSpec, error) {
	spec := session.OutputSpec{Name: o.Name, Enabled: o.Enabled}

	switch o.Kind {
	case "serial":
		parity, err := parseParity(o.Parity)
		if err != nil {
			return session.OutputSpec{}, fmt.Errorf("output %q: %w", o.Name, err)
		}
		stopBits, err := parseStopBits(o.StopBits)
		if err != nil {
			return session.OutputSpec{}, fmt.Errorf("output %q: %w", o.Name, err)
		}
		spec.Kind = session.OutputSerial
		spec.Serial = sink.SerialConfig{
			PortName: o.PortName,
			BaudRate: o.BaudRate,
			DataBits: o.DataBits,
			Parity:   parity,
			StopBits: stopBits,
		}
	case "vcom":
		spec.Kind = session.OutputVCOM
		spec.VCOM = vcom.Config{WritePortName: o.PortName, BaudRate: o.BaudRate}
	case "udp":
		spec.Kind = session.OutputUDP
		spec.UDP = sink.UDPConfig{Address: o.Address, Port: o.UDPPort, Broadcast: o.Broadcast}
	case "file":
		spec.Kind = session.OutputFile
		spec.File = sink.FileConfig{Path: o.Path, AppendTimestamp: o.AppendTimestamp, RotateDaily: o.RotateDaily}
	default:
		return session.OutputSpec{}, fmt.Errorf("output %q: unknown kind %q", o.Name, o.Kind)
	}

	return spec, nil
}

func parseParity(value string) (serial.Parity, error) {
	switch value {
	case "", "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return 0, fmt.Errorf("illegal parity value %q", value)
	}
}

func parseStopBits(value float32) (serial.StopBits, error) {
	switch value {
	case 0, 1:
		return serial.OneStopBit, nil
	case 1.5:
		return serial.OnePointFiveStopBits, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return 0, fmt.Errorf("stop bit value must be 1, 1.5 or 2, got %v", value)
	}
}

func (f *FilterFile) build() (*filter.Config, error) {
	cfg := &filter.Config{}
	switch f.Mode {
	case "", "allow-all":
		cfg.Mode = filter.AllowAll
	case "allow-list":
		cfg.Mode = filter.AllowList
		cfg.Allow = toSet(f.Allow)
	case "block-list":
		cfg.Mode = filter.BlockList
		cfg.Block = toSet(f.Block)
	default:
		return nil, fmt.Errorf("config: filter mode must be allow-all, allow-list or block-list, got %q", f.Mode)
	}
	return cfg, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
