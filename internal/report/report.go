// Package report turns a finished run into log lines, a Prometheus textfile
// and NATS messages.
package report

import (
	"time"

	"github.com/stone-age-io/fleetcheck/internal/result"
	"github.com/stone-age-io/fleetcheck/internal/runner"
	"go.uber.org/zap"
)

// Summary is the condensed view of one run
type Summary struct {
	RunID     string            `json:"run_id"`
	StartedAt string            `json:"started_at"`
	Duration  float64           `json:"duration_seconds"`
	DryRun    bool              `json:"dry_run"`
	Message   string            `json:"message,omitempty"`
	Devices   int               `json:"devices"`
	Units     int               `json:"units"`
	Counts    result.Summary    `json:"counts"`
	Status    result.Status     `json:"status"`
	ExitCode  int               `json:"exit_code"`
	Problems  []result.Snapshot `json:"problems,omitempty"`

	startedAt time.Time
	duration  time.Duration
}

// Summarize condenses an outcome and its results. Problems lists failures
// and errors in registration order.
func Summarize(out *runner.Outcome, mgr *result.Manager, ignoreError bool) *Summary {
	s := &Summary{
		RunID:     out.RunID,
		StartedAt: out.StartedAt.UTC().Format(time.RFC3339),
		Duration:  out.Duration.Seconds(),
		DryRun:    out.DryRun,
		Message:   out.Message,
		Devices:   out.Devices,
		Units:     out.Units,
		Counts:    mgr.Summary(),
		Status:    mgr.Status(ignoreError),
		ExitCode:  mgr.ExitCode(ignoreError),
		startedAt: out.StartedAt,
		duration:  out.Duration,
	}
	for _, r := range mgr.Filter(result.StatusFailure, result.StatusError) {
		s.Problems = append(s.Problems, r.Snapshot())
	}
	return s
}

// LogSummary writes the run summary, then one line per failed or errored
// check
func LogSummary(logger *zap.Logger, s *Summary) {
	logger.Info("Run complete",
		zap.String("run_id", s.RunID),
		zap.String("status", string(s.Status)),
		zap.Int("devices", s.Devices),
		zap.Int("total", s.Counts.Total),
		zap.Int("success", s.Counts.Success),
		zap.Int("failure", s.Counts.Failure),
		zap.Int("error", s.Counts.Error),
		zap.Int("skipped", s.Counts.Skipped),
		zap.Int("unset", s.Counts.Unset),
		zap.Duration("duration", s.duration))

	for _, p := range s.Problems {
		level := logger.Warn
		if p.Status == result.StatusError {
			level = logger.Error
		}
		level("Check did not pass",
			zap.String("device", p.Device),
			zap.String("check", p.Check),
			zap.String("status", string(p.Status)),
			zap.Strings("messages", p.Messages))
	}
}
