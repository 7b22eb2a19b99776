// Package monitor records timing and resource samples around labelled
// operations without affecting their outcome.
package monitor

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Thresholds above which a sample is logged as a warning.
type Thresholds struct {
	Duration   time.Duration
	MemoryMB   float64
	CPUPercent float64
}

// DefaultThresholds are 30s, 500MB and 80% CPU.
var DefaultThresholds = Thresholds{
	Duration:   30 * time.Second,
	MemoryMB:   500,
	CPUPercent: 80,
}

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 1000

// Entry is one recorded measurement.
type Entry struct {
	Label        string    `json:"label"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	MemoryMB     float64   `json:"memory_mb"`
	CPUPercent   *float64  `json:"cpu_percent,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// LabelSummary aggregates entries sharing a label.
type LabelSummary struct {
	Label     string  `json:"label"`
	Count     int     `json:"count"`
	Failures  int     `json:"failures"`
	AvgMs     float64 `json:"avg_ms"`
	MaxMs     int64   `json:"max_ms"`
	MaxMemory float64 `json:"max_memory_mb"`
}

// Monitor keeps the most recent entries in a fixed-size ring buffer.
type Monitor struct {
	mu         sync.Mutex
	ring       []Entry
	next       int
	full       bool
	thresholds Thresholds
	logger     *slog.Logger
}

// New creates a monitor. A non-positive capacity selects DefaultCapacity and
// zero thresholds fall back to DefaultThresholds.
func New(capacity int, th Thresholds, logger *slog.Logger) *Monitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if th.Duration <= 0 {
		th.Duration = DefaultThresholds.Duration
	}
	if th.MemoryMB <= 0 {
		th.MemoryMB = DefaultThresholds.MemoryMB
	}
	if th.CPUPercent <= 0 {
		th.CPUPercent = DefaultThresholds.CPUPercent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{ring: make([]Entry, capacity), thresholds: th, logger: logger}
}

// Measure runs fn, records a sample and returns fn's results untouched. A
// panic in fn is recorded as a failure and then continues to unwind.
func Measure[T any](m *Monitor, label string, fn func() (T, error)) (v T, err error) {
	start := time.Now()
	cpuStart, cpuOK := processCPUTime()
	panicked := true

	defer func() {
		elapsed := time.Since(start)
		e := Entry{
			Label:      label,
			DurationMs: elapsed.Milliseconds(),
			Success:    err == nil && !panicked,
			MemoryMB:   heapMB(),
			StartedAt:  start,
		}
		switch {
		case panicked:
			e.ErrorMessage = "panic"
		case err != nil:
			e.ErrorMessage = err.Error()
		}
		if cpuEnd, ok := processCPUTime(); ok && cpuOK && elapsed > 0 {
			pct := float64(cpuEnd-cpuStart) / float64(elapsed) * 100 / float64(runtime.NumCPU())
			e.CPUPercent = &pct
		}
		if m != nil {
			m.record(e, elapsed)
		}
	}()

	v, err = fn()
	panicked = false
	return v, err
}

// Do is Measure for functions that only return an error.
func (m *Monitor) Do(label string, fn func() error) error {
	_, err := Measure(m, label, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (m *Monitor) record(e Entry, elapsed time.Duration) {
	m.mu.Lock()
	m.ring[m.next] = e
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	th := m.thresholds
	m.mu.Unlock()

	if elapsed > th.Duration {
		m.logger.Warn("slow operation", "label", e.Label, "duration", elapsed.String(), "threshold", th.Duration.String())
	}
	if e.MemoryMB > th.MemoryMB {
		m.logger.Warn("high memory usage", "label", e.Label, "heap", humanize.IBytes(uint64(e.MemoryMB*1024*1024)), "threshold_mb", th.MemoryMB)
	}
	if e.CPUPercent != nil && *e.CPUPercent > th.CPUPercent {
		m.logger.Warn("high cpu usage", "label", e.Label, "cpu_percent", *e.CPUPercent, "threshold", th.CPUPercent)
	}
}

// Snapshot returns recorded entries oldest first.
func (m *Monitor) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		out := make([]Entry, m.next)
		copy(out, m.ring[:m.next])
		return out
	}
	out := make([]Entry, 0, len(m.ring))
	out = append(out, m.ring[m.next:]...)
	out = append(out, m.ring[:m.next]...)
	return out
}

// Summary aggregates the current entries per label, in order of first
// appearance.
func (m *Monitor) Summary() []LabelSummary {
	var order []string
	byLabel := make(map[string]*LabelSummary)
	totals := make(map[string]int64)

	for _, e := range m.Snapshot() {
		s, ok := byLabel[e.Label]
		if !ok {
			s = &LabelSummary{Label: e.Label}
			byLabel[e.Label] = s
			order = append(order, e.Label)
		}
		s.Count++
		if !e.Success {
			s.Failures++
		}
		if e.DurationMs > s.MaxMs {
			s.MaxMs = e.DurationMs
		}
		if e.MemoryMB > s.MaxMemory {
			s.MaxMemory = e.MemoryMB
		}
		totals[e.Label] += e.DurationMs
	}

	out := make([]LabelSummary, 0, len(order))
	for _, label := range order {
		s := byLabel[label]
		s.AvgMs = float64(totals[label]) / float64(s.Count)
		out = append(out, *s)
	}
	return out
}

func heapMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1024 * 1024)
}
