// Package stats holds the session's monotonic counters and timestamps (§3, C9).
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics accumulates counters for one session run. All mutator methods
// are safe for concurrent use; counters are incremented from the source's
// task, sink goroutines, and the session's data path, and read by a status
// observer (§5).
type Statistics struct {
	sentencesReceived atomic.Uint64
	sentencesSent     atomic.Uint64
	bytesReceived     atomic.Uint64
	bytesSent         atomic.Uint64
	parseErrors       atomic.Uint64
	checksumErrors    atomic.Uint64
	writeErrors       atomic.Uint64

	mu               sync.Mutex
	sessionStart     time.Time
	lastDataReceived time.Time
}

// Snapshot is an immutable, consistent view of the counters at one instant.
type Snapshot struct {
	SentencesReceived uint64
	SentencesSent     uint64
	BytesReceived     uint64
	BytesSent         uint64
	ParseErrors       uint64
	ChecksumErrors    uint64
	WriteErrors       uint64
	SessionStart      time.Time
	LastDataReceived  time.Time
}

// New returns a freshly zeroed Statistics.
func New() *Statistics {
	return &Statistics{}
}

// Reset zeroes every counter and stamps SessionStart to now.
func (s *Statistics) Reset(now time.Time) {
	s.sentencesReceived.Store(0)
	s.sentencesSent.Store(0)
	s.bytesReceived.Store(0)
	s.bytesSent.Store(0)
	s.parseErrors.Store(0)
	s.checksumErrors.Store(0)
	s.writeErrors.Store(0)

	s.mu.Lock()
	s.sessionStart = now
	s.lastDataReceived = time.Time{}
	s.mu.Unlock()
}

func (s *Statistics) AddSentencesReceived(n uint64) { s.sentencesReceived.Add(n) }
func (s *Statistics) AddSentencesSent(n uint64)     { s.sentencesSent.Add(n) }
func (s *Statistics) AddBytesReceived(n uint64)     { s.bytesReceived.Add(n) }
func (s *Statistics) AddBytesSent(n uint64)         { s.bytesSent.Add(n) }
func (s *Statistics) AddParseErrors(n uint64)       { s.parseErrors.Add(n) }
func (s *Statistics) AddChecksumErrors(n uint64)    { s.checksumErrors.Add(n) }
func (s *Statistics) AddWriteErrors(n uint64)       { s.writeErrors.Add(n) }

// SetLastDataReceived stamps the time of the most recent received chunk.
func (s *Statistics) SetLastDataReceived(now time.Time) {
	s.mu.Lock()
	s.lastDataReceived = now
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters and timestamps.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	start, last := s.sessionStart, s.lastDataReceived
	s.mu.Unlock()

	return Snapshot{
		SentencesReceived: s.sentencesReceived.Load(),
		SentencesSent:     s.sentencesSent.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		BytesSent:         s.bytesSent.Load(),
		ParseErrors:       s.parseErrors.Load(),
		ChecksumErrors:    s.checksumErrors.Load(),
		WriteErrors:       s.writeErrors.Load(),
		SessionStart:      start,
		LastDataReceived:  last,
	}
}

// Duration returns how long the session has been running, measured from
// SessionStart to now.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.SessionStart.IsZero() {
		return 0
	}
	return now.Sub(s.SessionStart)
}
