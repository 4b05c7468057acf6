package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goblimey/nmea-bridge/connstate"
	"github.com/goblimey/nmea-bridge/filter"
	"github.com/goblimey/nmea-bridge/ratelimit"
	"github.com/goblimey/nmea-bridge/sink"
	"github.com/goblimey/nmea-bridge/source"
)

const (
	gga = "$GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,47.0,M,,*51\r\n"
	rmc = "$GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*74\r\n"
)

// fakeSource is a test-only Source that the test pushes data and state
// transitions into directly, bypassing any real transport.
type fakeSource struct {
	mu      sync.Mutex
	state   connstate.State
	onData  source.DataFunc
	onState source.StateFunc
	started bool
}

func (f *fakeSource) Name() string       { return "fake-source" }
func (f *fakeSource) InstanceID() string { return "fake-source-id" }

func (f *fakeSource) State() connstate.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.state = connstate.Connected
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Stop(context.Context) error {
	f.mu.Lock()
	f.started = false
	f.state = connstate.Disconnected
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) push(data []byte) {
	if f.onData != nil {
		f.onData(data, time.Now())
	}
}

func (f *fakeSource) fail(msg string) {
	f.mu.Lock()
	old := f.state
	f.state = connstate.Error
	cb := f.onState
	f.mu.Unlock()
	if cb != nil {
		cb(old, connstate.Error, msg)
	}
}

// fakeSink is a test-only Sink whose Write behaviour is fixed at
// construction, recording every write it accepts.
type fakeSink struct {
	name       string
	alwaysFail bool

	mu      sync.Mutex
	started bool
	writes  [][]byte
}

func (f *fakeSink) Name() string             { return f.name }
func (f *fakeSink) InstanceID() string       { return f.name + "-id" }
func (f *fakeSink) State() connstate.State   { return connstate.Connected }
func (f *fakeSink) Ready() bool              { f.mu.Lock(); defer f.mu.Unlock(); return f.started }
func (f *fakeSink) Start(context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}
func (f *fakeSink) Stop(context.Context) error {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) Write(_ context.Context, data []byte) error {
	if f.alwaysFail {
		return errors.New("fake sink: write always fails")
	}
	f.mu.Lock()
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

var _ source.Source = (*fakeSource)(nil)
var _ sink.Sink = (*fakeSink)(nil)

func newTestSession(t *testing.T, cfg Config, failingSink, okSink *fakeSink) (*Session, *fakeSource) {
	t.Helper()
	src := &fakeSource{}

	s := New(cfg, nil, nil, nil)
	s.SetSourceFactory(func(_ InputSpec, onData source.DataFunc, onState source.StateFunc) (source.Source, error) {
		src.onData = onData
		src.onState = onState
		return src, nil
	})
	s.SetSinkFactory(func(spec OutputSpec, _ sink.StateFunc) (sink.Sink, error) {
		switch spec.Name {
		case "failing":
			return failingSink, nil
		case "ok":
			return okSink, nil
		default:
			t.Fatalf("unexpected sink spec %q", spec.Name)
			return nil, nil
		}
	})
	return s, src
}

func baseConfig() Config {
	return Config{
		Input: InputSpec{Kind: InputUDP, UDP: source.UDPConfig{Port: 0}},
		Outputs: []OutputSpec{
			{Name: "failing", Kind: OutputSerial, Enabled: true},
			{Name: "ok", Kind: OutputSerial, Enabled: true},
		},
	}
}

func TestBroadcastIsolation(t *testing.T) {
	failing := &fakeSink{name: "failing", alwaysFail: true}
	ok := &fakeSink{name: "ok"}

	s, src := newTestSession(t, baseConfig(), failing, ok)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	src.push([]byte(gga))
	src.push([]byte(rmc))

	deadline := time.Now().Add(2 * time.Second)
	for ok.writeCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := ok.writeCount(); got != 2 {
		t.Fatalf("ok sink received %d writes, want 2", got)
	}

	snap := s.Statistics()
	if snap.WriteErrors != 2 {
		t.Fatalf("WriteErrors = %d, want 2", snap.WriteErrors)
	}
	if snap.SentencesReceived != 2 {
		t.Fatalf("SentencesReceived = %d, want 2", snap.SentencesReceived)
	}
}

func TestAllowListFilterDropsUnlistedType(t *testing.T) {
	failing := &fakeSink{name: "failing", alwaysFail: true}
	ok := &fakeSink{name: "ok"}

	cfg := baseConfig()
	cfg.Filter = &filter.Config{Mode: filter.AllowList, Allow: map[string]struct{}{"GGA": {}}}

	s, src := newTestSession(t, cfg, failing, ok)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	src.push([]byte(gga))
	src.push([]byte(rmc))

	deadline := time.Now().Add(2 * time.Second)
	for ok.writeCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if got := ok.writeCount(); got != 1 {
		t.Fatalf("ok sink received %d writes, want 1", got)
	}
}

func TestPerTypeRateLimitDropsSecondGGA(t *testing.T) {
	failing := &fakeSink{name: "failing", alwaysFail: true}
	ok := &fakeSink{name: "ok"}

	cfg := baseConfig()
	cfg.RateLimit = &ratelimit.Config{MaxHz: 1, PerType: true}

	s, src := newTestSession(t, cfg, failing, ok)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	src.push([]byte(gga))
	src.push([]byte(gga))
	src.push([]byte(rmc))

	deadline := time.Now().Add(2 * time.Second)
	for ok.writeCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if got := ok.writeCount(); got != 2 {
		t.Fatalf("ok sink received %d writes, want 2 (one GGA dropped)", got)
	}
}

func TestStateMachineStartStop(t *testing.T) {
	failing := &fakeSink{name: "failing", alwaysFail: true}
	ok := &fakeSink{name: "ok"}

	s, _ := newTestSession(t, baseConfig(), failing, ok)

	if s.State() != Stopped {
		t.Fatalf("initial state = %v, want Stopped", s.State())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Running {
		t.Fatalf("state after Start = %v, want Running", s.State())
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != Stopped {
		t.Fatalf("state after Stop = %v, want Stopped", s.State())
	}

	// Stop is idempotent.
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSourceErrorEscalatesToSessionError(t *testing.T) {
	failing := &fakeSink{name: "failing", alwaysFail: true}
	ok := &fakeSink{name: "ok"}

	s, src := newTestSession(t, baseConfig(), failing, ok)

	var seenMu sync.Mutex
	var seen []State
	s.onStateChange = func(_, new State, _ string) {
		seenMu.Lock()
		seen = append(seen, new)
		seenMu.Unlock()
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.fail("device unplugged")

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Stopped && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if s.State() != Stopped {
		t.Fatalf("state after source error = %v, want Stopped after cleanup", s.State())
	}

	seenMu.Lock()
	defer seenMu.Unlock()
	sawError := false
	for _, st := range seen {
		if st == Error {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("state transitions %v never reached Error", seen)
	}
}

func TestStartWhileRunningFails(t *testing.T) {
	failing := &fakeSink{name: "failing", alwaysFail: true}
	ok := &fakeSink{name: "ok"}

	s, _ := newTestSession(t, baseConfig(), failing, ok)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error starting an already-running session")
	}
}
