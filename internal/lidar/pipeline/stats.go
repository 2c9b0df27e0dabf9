package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickSample is one tick's entry in the stats history.
type TickSample struct {
	TickID    uint64    `json:"tick_id"`
	Points    int       `json:"points"`
	Agents    int       `json:"agents"`
	Missing   int       `json:"missing"`
	Persisted bool      `json:"persisted"`
	Duration  float64   `json:"duration_ms"`
	At        time.Time `json:"at"`
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Ticks              uint64       `json:"ticks"`
	BurnIn             uint64       `json:"burn_in"`
	Persisted          uint64       `json:"persisted"`
	Skipped            uint64       `json:"skipped"`
	Partial            uint64       `json:"partial"`
	MissingMeasurement uint64       `json:"missing_measurements"`
	Mismatched         uint64       `json:"mismatched"`
	Duplicates         uint64       `json:"duplicates"`
	FuseErrors         uint64       `json:"fuse_errors"`
	PersistErrors      uint64       `json:"persist_errors"`
	SpawnRejected      uint64       `json:"spawn_rejected"`
	FusedPoints        uint64       `json:"fused_points"`
	History            []TickSample `json:"history,omitempty"`
}

// Stats counts pipeline outcomes. Counters are safe for concurrent reads
// while the runner updates them.
type Stats struct {
	ticks         atomic.Uint64
	burnIn        atomic.Uint64
	persisted     atomic.Uint64
	skipped       atomic.Uint64
	partial       atomic.Uint64
	missing       atomic.Uint64
	mismatched    atomic.Uint64
	duplicates    atomic.Uint64
	fuseErrors    atomic.Uint64
	persistErrors atomic.Uint64
	spawnRejected atomic.Uint64
	fusedPoints   atomic.Uint64

	mu      sync.Mutex
	history []TickSample
	next    int
	full    bool
}

// DefaultHistorySize is the number of ticks kept for charts.
const DefaultHistorySize = 300

// NewStats creates Stats keeping the last historySize ticks.
func NewStats(historySize int) *Stats {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Stats{history: make([]TickSample, historySize)}
}

// Record appends a tick sample to the history ring.
func (s *Stats) Record(t TickSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[s.next] = t
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
}

// History returns the retained tick samples, oldest first.
func (s *Stats) History() []TickSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return append([]TickSample(nil), s.history[:s.next]...)
	}
	out := make([]TickSample, 0, len(s.history))
	out = append(out, s.history[s.next:]...)
	return append(out, s.history[:s.next]...)
}

// Snapshot returns the current counters, with history when withHistory is set.
func (s *Stats) Snapshot(withHistory bool) StatsSnapshot {
	snap := StatsSnapshot{
		Ticks:              s.ticks.Load(),
		BurnIn:             s.burnIn.Load(),
		Persisted:          s.persisted.Load(),
		Skipped:            s.skipped.Load(),
		Partial:            s.partial.Load(),
		MissingMeasurement: s.missing.Load(),
		Mismatched:         s.mismatched.Load(),
		Duplicates:         s.duplicates.Load(),
		FuseErrors:         s.fuseErrors.Load(),
		PersistErrors:      s.persistErrors.Load(),
		SpawnRejected:      s.spawnRejected.Load(),
		FusedPoints:        s.fusedPoints.Load(),
	}
	if withHistory {
		snap.History = s.History()
	}
	return snap
}
