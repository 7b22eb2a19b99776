package recovery

import (
	"sync"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// Stats counts classified errors and recovery outcomes across runs.
type Stats struct {
	mu        sync.Mutex
	byKind    map[domain.ErrorKind]int
	total     int
	attempted int
	recovered int
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Total     int                      `json:"total"`
	ByKind    map[domain.ErrorKind]int `json:"by_kind"`
	Attempted int                      `json:"recovery_attempts"`
	Recovered int                      `json:"recovery_successes"`
}

// NewStats returns an empty counter set.
func NewStats() *Stats {
	return &Stats{byKind: make(map[domain.ErrorKind]int)}
}

func (s *Stats) recordError(kind domain.ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byKind[kind]++
}

func (s *Stats) recordOutcome(recovered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempted++
	if recovered {
		s.recovered++
	}
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKind := make(map[domain.ErrorKind]int, len(s.byKind))
	for k, v := range s.byKind {
		byKind[k] = v
	}
	return StatsSnapshot{Total: s.total, ByKind: byKind, Attempted: s.attempted, Recovered: s.recovered}
}
