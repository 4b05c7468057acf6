// Package session implements the session manager (§4.7, C8): it builds
// the pipeline from a Config, drives the event-driven data path, fans out
// accepted sentences to every ready sink, and owns the session-level state
// machine.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goblimey/go-tools/clock"

	"github.com/goblimey/nmea-bridge/connstate"
	"github.com/goblimey/nmea-bridge/filter"
	"github.com/goblimey/nmea-bridge/health"
	"github.com/goblimey/nmea-bridge/parser"
	"github.com/goblimey/nmea-bridge/ratelimit"
	"github.com/goblimey/nmea-bridge/sentence"
	"github.com/goblimey/nmea-bridge/sink"
	"github.com/goblimey/nmea-bridge/source"
	"github.com/goblimey/nmea-bridge/stats"
)

// StateFunc is called once per session-state transition.
type StateFunc func(old, new State, msg string)

// SentenceFunc is called once per sentence that survives the filter and
// rate limiter, before broadcast (§4.7's sentenceReceived event).
type SentenceFunc func(s sentence.Sentence)

// SourceFactory builds the session's data source from its input spec.
// Tests substitute a factory returning a fake Source (§9).
type SourceFactory func(input InputSpec, onData source.DataFunc, onState source.StateFunc) (source.Source, error)

// SinkFactory builds one sink from its output spec. Tests substitute a
// factory returning a fake Sink (§9).
type SinkFactory func(spec OutputSpec, onState sink.StateFunc) (sink.Sink, error)

// Session builds and runs the pipeline for one Config (§4.7). A Session
// runs one start/stop cycle at a time; once Stop has returned and the state
// is Stopped, Start may be called again to run a fresh cycle.
type Session struct {
	// ID identifies this Session instance for log correlation across
	// the many goroutines a single pipeline run spawns.
	ID string

	cfg    Config
	logger *slog.Logger

	onStateChange StateFunc
	onSentence    SentenceFunc

	mu    sync.Mutex
	state State

	stats   *stats.Statistics
	filt    *filter.Filter
	limiter *ratelimit.Limiter
	healthM *health.Monitor

	src   source.Source
	sinks []sink.Sink

	sourceFactory SourceFactory
	sinkFactory   SinkFactory

	inflight sync.WaitGroup
}

// New builds a Session from cfg. logger, onStateChange and onSentence may
// be nil.
func New(cfg Config, logger *slog.Logger, onStateChange StateFunc, onSentence SentenceFunc) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:            uuid.NewString(),
		cfg:           cfg,
		logger:        logger,
		onStateChange: onStateChange,
		onSentence:    onSentence,
		state:         Stopped,
		stats:         stats.New(),
		sourceFactory: defaultSourceFactory,
		sinkFactory:   defaultSinkFactory,
	}
}

// SetSourceFactory overrides how the session builds its data source. Must
// be called before Start; intended for injecting fakes under test (§9).
func (s *Session) SetSourceFactory(f SourceFactory) {
	s.sourceFactory = f
}

// SetSinkFactory overrides how the session builds each sink. Must be
// called before Start; intended for injecting fakes under test (§9).
func (s *Session) SetSinkFactory(f SinkFactory) {
	s.sinkFactory = f
}

func defaultSourceFactory(input InputSpec, onData source.DataFunc, onState source.StateFunc) (source.Source, error) {
	switch input.Kind {
	case InputTCP:
		return source.NewTCP("source", input.TCP, onData, onState), nil
	case InputUDP:
		return source.NewUDP("source", input.UDP, onData, onState), nil
	default:
		return nil, fmt.Errorf("unknown input kind %v", input.Kind)
	}
}

func defaultSinkFactory(spec OutputSpec, onState sink.StateFunc) (sink.Sink, error) {
	switch spec.Kind {
	case OutputSerial:
		return sink.NewSerial(spec.Name, spec.Serial, onState), nil
	case OutputVCOM:
		return sink.NewVCOM(spec.Name, spec.VCOM, onState), nil
	case OutputUDP:
		return sink.NewUDP(spec.Name, spec.UDP, onState), nil
	case OutputFile:
		return sink.NewFile(spec.Name, spec.File, onState), nil
	default:
		return nil, fmt.Errorf("output %q: unknown kind %v", spec.Name, spec.Kind)
	}
}

// State returns the current session-level state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Statistics returns a consistent snapshot of the session's counters.
func (s *Session) Statistics() stats.Snapshot {
	return s.stats.Snapshot()
}

// HealthStatus returns the health monitor's current liveness status, or
// health.Unknown if the session has never been started.
func (s *Session) HealthStatus() health.Status {
	s.mu.Lock()
	h := s.healthM
	s.mu.Unlock()
	if h == nil {
		return health.Unknown
	}
	return h.Status()
}

// DataRateHz returns the health monitor's current estimated sentence rate.
func (s *Session) DataRateHz() float64 {
	s.mu.Lock()
	h := s.healthM
	s.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.DataRateHz()
}

func (s *Session) setState(new State, msg string) {
	s.mu.Lock()
	old := s.state
	s.state = new
	s.mu.Unlock()

	if old == new {
		return
	}
	s.logger.Info("session state change", "session", s.ID, "old", old, "new", new, "msg", msg)
	if s.onStateChange != nil {
		s.onStateChange(old, new, msg)
	}
}

// Start builds the pipeline and begins producing and broadcasting
// sentences. It is only legal from Stopped (§4.7).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: start called while %v, must be stopped", cur)
	}
	s.mu.Unlock()

	s.setState(Starting, "")

	now := time.Now()
	s.stats.Reset(now)

	s.filt = filter.New(s.cfg.Filter)

	rlCfg := ratelimit.Config{}
	if s.cfg.RateLimit != nil {
		rlCfg = *s.cfg.RateLimit
	}
	s.limiter = ratelimit.New(rlCfg)

	s.healthM = health.New(clock.NewSystemClock(), 0, func(old, new health.Status) {
		s.logger.Info("health status change", "old", old, "new", new)
	})
	s.healthM.Start()

	src, err := s.buildSource()
	if err != nil {
		return s.failStart(ctx, err)
	}
	s.src = src

	sinks, err := s.buildSinks()
	if err != nil {
		return s.failStart(ctx, err)
	}
	s.sinks = sinks

	if err := s.src.Start(ctx); err != nil {
		return s.failStart(ctx, fmt.Errorf("start source %s: %w", s.src.Name(), err))
	}

	for _, sk := range s.sinks {
		if err := sk.Start(ctx); err != nil {
			return s.failStart(ctx, fmt.Errorf("start sink %s: %w", sk.Name(), err))
		}
	}

	s.setState(Running, "")
	return nil
}

// failStart tears everything back down and surfaces err to the caller, per
// the start contract's failure path.
func (s *Session) failStart(ctx context.Context, err error) error {
	s.setState(Error, err.Error())
	s.teardown(ctx)
	s.setState(Stopped, "")
	return err
}

func (s *Session) buildSource() (source.Source, error) {
	return s.sourceFactory(s.cfg.Input, s.handleData, s.handleSourceState)
}

func (s *Session) buildSinks() ([]sink.Sink, error) {
	var built []sink.Sink
	for _, out := range s.cfg.Outputs {
		if !out.Enabled {
			continue
		}
		name := out.Name
		onState := func(old, new connstate.State, msg string) {
			s.handleSinkState(name, old, new, msg)
		}
		sk, err := s.sinkFactory(out, onState)
		if err != nil {
			return nil, err
		}
		built = append(built, sk)
	}
	return built, nil
}

// Stop tears the pipeline down. It is idempotent (§4.7).
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setState(Stopping, "")
	s.teardown(ctx)
	s.setState(Stopped, "")
	return nil
}

// teardown stops the source and every sink, disposes the health monitor,
// waits (bounded) for in-flight broadcasts, and clears references.
func (s *Session) teardown(ctx context.Context) {
	if s.src != nil {
		if err := s.src.Stop(ctx); err != nil {
			s.logger.Warn("source stop error", "source", s.src.Name(), "err", err)
		}
	}
	for _, sk := range s.sinks {
		if err := sk.Stop(ctx); err != nil {
			s.logger.Warn("sink stop error", "sink", sk.Name(), "err", err)
		}
	}
	if s.healthM != nil {
		s.healthM.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(sink.StopGrace):
		s.logger.Warn("timed out waiting for in-flight sink writes")
	}

	s.src = nil
	s.sinks = nil
	s.filt = nil
	s.limiter = nil
	s.healthM = nil
}

// handleSourceState observes the source's own connection-state machine and
// escalates Error to the session's state when running (§4.7).
func (s *Session) handleSourceState(old, new connstate.State, msg string) {
	s.logger.Info("source state change", "old", old, "new", new, "msg", msg)
	if new == connstate.Error && s.State() == Running {
		s.setState(Error, msg)
		go s.Stop(context.Background())
	}
}

// handleSinkState observes one sink's connection-state machine. Sink
// errors never escalate to the session (§4.7, §7).
func (s *Session) handleSinkState(name string, old, new connstate.State, msg string) {
	s.logger.Info("sink state change", "sink", name, "old", old, "new", new, "msg", msg)
}

// handleData is the source's dataReceived callback: it drives the parser
// and the rest of the pipeline for every sentence in the chunk (§4.7).
func (s *Session) handleData(data []byte, receivedAt time.Time) {
	s.stats.AddBytesReceived(uint64(len(data)))
	s.stats.SetLastDataReceived(receivedAt)

	sentences, skipped := parser.Parse(data, receivedAt)
	if skipped > 0 {
		s.stats.AddParseErrors(uint64(skipped))
		s.logger.Warn("malformed frame skipped", "count", skipped)
	}

	for _, sent := range sentences {
		s.stats.AddSentencesReceived(1)

		if !sent.Valid {
			s.stats.AddChecksumErrors(1)
			s.logger.Warn("checksum error", "fullType", sent.FullType())
			continue
		}

		if s.filt != nil && !s.filt.Allowed(sent) {
			continue
		}
		if s.limiter != nil && !s.limiter.ShouldEmit(sent) {
			continue
		}

		if s.healthM != nil {
			s.healthM.Record(sent)
		}
		if s.onSentence != nil {
			s.onSentence(sent)
		}

		s.broadcast(sent)
	}
}

// broadcast dispatches a concurrent, independent write to every currently
// ready sink, without waiting for completion before returning (§4.7, §5, §9).
func (s *Session) broadcast(sent sentence.Sentence) {
	payload := frameForTransmission(sent.Raw)

	s.mu.Lock()
	sinks := s.sinks
	s.mu.Unlock()

	for _, sk := range sinks {
		if !sk.Ready() {
			continue
		}

		s.inflight.Add(1)
		go func(sk sink.Sink) {
			defer s.inflight.Done()

			ctx, cancel := context.WithTimeout(context.Background(), sink.StopGrace)
			defer cancel()

			if err := sk.Write(ctx, payload); err != nil {
				s.stats.AddWriteErrors(1)
				s.logger.Error("sink write failed", "sink", sk.Name(), "err", err)
				return
			}
			s.stats.AddSentencesSent(1)
			s.stats.AddBytesSent(uint64(len(payload)))
		}(sk)
	}
}

// frameForTransmission appends an explicit CR+LF to raw per the rule in
// §4.7, normalising whatever line ending (if any) is already present.
func frameForTransmission(raw []byte) []byte {
	n := len(raw)
	switch {
	case n >= 2 && raw[n-2] == '\r' && raw[n-1] == '\n':
		return raw
	case n >= 1 && raw[n-1] == '\r':
		out := make([]byte, n, n+1)
		copy(out, raw)
		return append(out, '\n')
	case n >= 1 && raw[n-1] == '\n':
		out := make([]byte, n-1, n+1)
		copy(out, raw[:n-1])
		return append(out, '\r', '\n')
	default:
		out := make([]byte, n, n+2)
		copy(out, raw)
		return append(out, '\r', '\n')
	}
}

