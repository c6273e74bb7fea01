package runner

import (
	"sync"
	"time"
)

// Stats tracks runner activity for self-monitoring
type Stats struct {
	mu            sync.RWMutex
	startTime     time.Time
	runs          int64
	dryRuns       int64
	unitsExecuted int64
	lastRun       time.Time
	lastRunID     string
	lastMessage   string
	lastError     string
	lastErrorTime time.Time
}

// Metrics is a point-in-time copy of the runner statistics
type Metrics struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Runs          int64  `json:"runs"`
	DryRuns       int64  `json:"dry_runs"`
	UnitsExecuted int64  `json:"units_executed"`
	LastRun       string `json:"last_run,omitempty"`
	LastRunID     string `json:"last_run_id,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	LastErrorTime string `json:"last_error_time,omitempty"`
}

func (s *Stats) recordRun(out *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs++
	if out.DryRun {
		s.dryRuns++
	}
	s.lastRun = out.StartedAt
	s.lastRunID = out.RunID
	s.lastMessage = out.Message
}

func (s *Stats) recordUnits(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitsExecuted += n
}

func (s *Stats) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs++ // Still counts as a run
	s.lastError = err.Error()
	s.lastErrorTime = time.Now()
}

func (s *Stats) metrics() *Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := &Metrics{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runs:          s.runs,
		DryRuns:       s.dryRuns,
		UnitsExecuted: s.unitsExecuted,
		LastRunID:     s.lastRunID,
		LastMessage:   s.lastMessage,
	}
	if !s.lastRun.IsZero() {
		m.LastRun = s.lastRun.Format(time.RFC3339)
	}
	if !s.lastErrorTime.IsZero() {
		m.LastError = s.lastError
		m.LastErrorTime = s.lastErrorTime.Format(time.RFC3339)
	}
	return m
}
