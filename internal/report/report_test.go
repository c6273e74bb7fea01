package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stone-age-io/fleetcheck/internal/result"
	"github.com/stone-age-io/fleetcheck/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testRun(t *testing.T) (*runner.Outcome, *result.Manager) {
	t.Helper()
	mgr := result.NewManager()

	ok := result.New("leaf1", "VerifyUptime", []string{"system"}, "")
	ok.Success()
	failed := result.New("leaf1", "VerifyEOSVersion", []string{"software"}, "")
	failed.Failure("EOS version mismatch")
	errored := result.New("spine.1", "VerifyUptime", []string{"system"}, "")
	errored.Error("command timed out")
	skipped := result.New("spine.1", "VerifyTemperature", []string{"hardware"}, "")
	skipped.Skipped("not supported on vEOS-lab")
	mgr.Add(ok, failed, errored, skipped)

	out := &runner.Outcome{
		RunID:     "run-1",
		StartedAt: time.Unix(1700000000, 0),
		Devices:   2,
		Units:     4,
		Duration:  1500 * time.Millisecond,
	}
	return out, mgr
}

// TestSummarize tests counts, status and problem listing
func TestSummarize(t *testing.T) {
	out, mgr := testRun(t)

	s := Summarize(out, mgr, false)
	assert.Equal(t, 4, s.Counts.Total)
	assert.Equal(t, result.StatusError, s.Status)
	assert.Equal(t, 2, s.ExitCode)
	assert.Equal(t, 1.5, s.Duration)
	require.Len(t, s.Problems, 2)
	assert.Equal(t, "VerifyEOSVersion", s.Problems[0].Check)
	assert.Equal(t, "spine.1", s.Problems[1].Device)

	s = Summarize(out, mgr, true)
	assert.Equal(t, result.StatusFailure, s.Status)
	assert.Equal(t, 1, s.ExitCode)
}

// TestLogSummary tests the summary log line and per-problem lines
func TestLogSummary(t *testing.T) {
	out, mgr := testRun(t)
	core, logs := observer.New(zap.InfoLevel)

	LogSummary(zap.New(core), Summarize(out, mgr, false))

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, "Run complete", entries[0].Message)
	assert.Equal(t, int64(1), entries[0].ContextMap()["failure"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}

// TestWriteTextfile tests the Prometheus text exposition
func TestWriteTextfile(t *testing.T) {
	out, mgr := testRun(t)
	path := filepath.Join(t.TempDir(), "fleetcheck.prom")

	require.NoError(t, WriteTextfile(path, Summarize(out, mgr, false), mgr))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	for _, want := range []string{
		"# TYPE fleetcheck_results gauge",
		`fleetcheck_results{status="success"} 1`,
		`fleetcheck_results{status="unset"} 0`,
		`fleetcheck_device_results{device="leaf1",status="failure"} 1`,
		`fleetcheck_device_results{device="spine.1",status="error"} 1`,
		"fleetcheck_last_run_timestamp_seconds 1.7e+09",
		"fleetcheck_last_run_duration_seconds 1.5",
		"fleetcheck_last_run_exit_code 2",
	} {
		assert.Contains(t, text, want)
	}

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestWriteTextfile_MissingDir tests that a bad directory is reported
func TestWriteTextfile_MissingDir(t *testing.T) {
	out, mgr := testRun(t)
	path := filepath.Join(t.TempDir(), "missing", "fleetcheck.prom")
	assert.Error(t, WriteTextfile(path, Summarize(out, mgr, false), mgr))
}

type fakeSink struct {
	subjects []string
	payloads [][]byte
	failOn   string
}

func (f *fakeSink) Publish(subject string, data []byte) error {
	if subject == f.failOn {
		return errors.New("queue full")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

// TestPublisher tests subjects and payloads
func TestPublisher(t *testing.T) {
	out, mgr := testRun(t)
	sink := &fakeSink{}

	require.NoError(t, NewPublisher(sink, "fleetcheck", nil).Publish(Summarize(out, mgr, false), mgr))
	assert.Equal(t, []string{
		"fleetcheck.results.leaf1",
		"fleetcheck.results.spine_1",
		"fleetcheck.summary",
	}, sink.subjects)

	var msg deviceMessage
	require.NoError(t, json.Unmarshal(sink.payloads[0], &msg))
	assert.Equal(t, "run-1", msg.RunID)
	require.Len(t, msg.Results, 2)
	assert.Equal(t, result.StatusFailure, msg.Results[1].Status)

	var s Summary
	require.NoError(t, json.Unmarshal(sink.payloads[2], &s))
	assert.Equal(t, 2, s.ExitCode)
	assert.True(t, strings.HasPrefix(s.StartedAt, "2023-11-14"))
}

// TestPublisher_PartialFailure tests that one failing device does not stop the rest
func TestPublisher_PartialFailure(t *testing.T) {
	out, mgr := testRun(t)
	sink := &fakeSink{failOn: "fleetcheck.results.leaf1"}

	err := NewPublisher(sink, "fleetcheck", zap.NewNop()).Publish(Summarize(out, mgr, false), mgr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 devices")
	assert.Equal(t, []string{"fleetcheck.results.spine_1", "fleetcheck.summary"}, sink.subjects)
}
