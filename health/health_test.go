package health

import (
	"sync"
	"testing"
	"time"

	"github.com/goblimey/nmea-bridge/sentence"
)

// fakeClock is a settable clock.Clock for deterministic tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func TestRecordTransitionsToHealthy(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	var transitions []Status
	m := New(clk, 3*time.Second, func(old, new Status) { transitions = append(transitions, new) })

	if m.Status() != Unknown {
		t.Fatalf("initial status = %v, want Unknown", m.Status())
	}
	m.Record(sentence.Sentence{})
	if m.Status() != Healthy {
		t.Fatalf("status after record = %v, want Healthy", m.Status())
	}
	if len(transitions) != 1 || transitions[0] != Healthy {
		t.Fatalf("expected exactly one transition to Healthy, got %v", transitions)
	}
}

func TestTickMarksStale(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := New(clk, 3*time.Second, nil)

	m.Record(sentence.Sentence{})
	clk.set(time.Unix(1000, 0).Add(4 * time.Second))
	m.Tick()
	if m.Status() != Stale {
		t.Fatalf("status = %v, want Stale", m.Status())
	}
}

func TestTickDoesNotMarkStaleBeforeThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := New(clk, 3*time.Second, nil)

	m.Record(sentence.Sentence{})
	clk.set(time.Unix(1000, 0).Add(2 * time.Second))
	m.Tick()
	if m.Status() != Healthy {
		t.Fatalf("status = %v, want Healthy", m.Status())
	}
}

func TestStatusNeverAutoAdvancesToError(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := New(clk, 1*time.Second, nil)

	m.Record(sentence.Sentence{})
	clk.set(time.Unix(1000, 0).Add(time.Hour))
	for i := 0; i < 10; i++ {
		m.Tick()
	}
	if m.Status() != Stale {
		t.Fatalf("status = %v, want Stale (never Error without SetError)", m.Status())
	}
}

func TestDataRateHz(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := New(clk, 3*time.Second, nil)

	if rate := m.DataRateHz(); rate != 0 {
		t.Fatalf("rate with no data = %v, want 0", rate)
	}

	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		clk.set(base.Add(time.Duration(i) * 200 * time.Millisecond))
		m.Record(sentence.Sentence{})
	}
	// 5 samples spanning 800ms => rate = 4/0.8 = 5Hz
	rate := m.DataRateHz()
	if rate < 4.9 || rate > 5.1 {
		t.Fatalf("rate = %v, want ~5", rate)
	}
}

func TestReset(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := New(clk, 3*time.Second, nil)

	m.Record(sentence.Sentence{})
	m.Reset()
	if m.Status() != Unknown {
		t.Fatalf("status after reset = %v, want Unknown", m.Status())
	}
	if m.DataRateHz() != 0 {
		t.Fatalf("rate after reset should be 0")
	}
}

func TestStartStop(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := New(clk, 3*time.Second, nil)
	m.Start()
	m.Stop()
}
