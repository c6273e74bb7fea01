package result

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResult_Transitions tests the allowed status transitions
func TestResult_Transitions(t *testing.T) {
	tests := []struct {
		name       string
		apply      func(r *Result)
		wantStatus Status
		wantMsgs   []string
	}{
		{
			name:       "starts unset",
			apply:      func(r *Result) {},
			wantStatus: StatusUnset,
		},
		{
			name:       "success",
			apply:      func(r *Result) { r.Success() },
			wantStatus: StatusSuccess,
		},
		{
			name:       "success with message",
			apply:      func(r *Result) { r.Success("all good") },
			wantStatus: StatusSuccess,
			wantMsgs:   []string{"all good"},
		},
		{
			name:       "skipped",
			apply:      func(r *Result) { r.Skipped("not on this platform") },
			wantStatus: StatusSkipped,
			wantMsgs:   []string{"not on this platform"},
		},
		{
			name: "failures accumulate",
			apply: func(r *Result) {
				r.Failure("neighbor 10.0.0.1 down")
				r.Failuref("neighbor %s down", "10.0.0.2")
			},
			wantStatus: StatusFailure,
			wantMsgs:   []string{"neighbor 10.0.0.1 down", "neighbor 10.0.0.2 down"},
		},
		{
			name: "error supersedes failure",
			apply: func(r *Result) {
				r.Failure("partial")
				r.Error("panic: index out of range")
			},
			wantStatus: StatusError,
			wantMsgs:   []string{"partial", "panic: index out of range"},
		},
		{
			name: "success is terminal",
			apply: func(r *Result) {
				r.Success()
				r.Failure("late")
				r.Error("late")
				r.Skipped("late")
			},
			wantStatus: StatusSuccess,
		},
		{
			name: "failure cannot become success",
			apply: func(r *Result) {
				r.Failure("bad")
				r.Success()
			},
			wantStatus: StatusFailure,
			wantMsgs:   []string{"bad"},
		},
		{
			name: "error is terminal",
			apply: func(r *Result) {
				r.Error("boom")
				r.Failure("late")
			},
			wantStatus: StatusError,
			wantMsgs:   []string{"boom"},
		},
		{
			name: "skipped is terminal",
			apply: func(r *Result) {
				r.Skipped("skip")
				r.Error("late")
			},
			wantStatus: StatusSkipped,
			wantMsgs:   []string{"skip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("leaf1", "VerifyUptime", []string{"system"}, "uptime check")
			tt.apply(r)
			assert.Equal(t, tt.wantStatus, r.Status())
			assert.Equal(t, tt.wantMsgs, r.Messages())
		})
	}
}

// TestResult_TransitionReturn tests the applied flag
func TestResult_TransitionReturn(t *testing.T) {
	r := New("leaf1", "VerifyUptime", nil, "")
	assert.True(t, r.Success())
	assert.False(t, r.Success())
	assert.False(t, r.Failure("x"))
}

// TestResult_Snapshot tests copying
func TestResult_Snapshot(t *testing.T) {
	r := New("leaf1", "VerifyUptime", []string{"system"}, "desc")
	r.Failure("too low")

	s := r.Snapshot()
	assert.Equal(t, "leaf1", s.Device)
	assert.Equal(t, StatusFailure, s.Status)
	assert.Equal(t, []string{"too low"}, s.Messages)
	assert.Equal(t, "leaf1/VerifyUptime: failure", r.String())
}

func newResult(device, check string, status Status) *Result {
	r := New(device, check, nil, "")
	switch status {
	case StatusSuccess:
		r.Success()
	case StatusFailure:
		r.Failure("failed")
	case StatusError:
		r.Error("errored")
	case StatusSkipped:
		r.Skipped("skipped")
	}
	return r
}

// TestManager_Views tests derived views
func TestManager_Views(t *testing.T) {
	m := NewManager()
	m.Add(
		newResult("leaf2", "VerifyUptime", StatusSuccess),
		newResult("leaf1", "VerifyUptime", StatusFailure),
		newResult("leaf1", "VerifyNTP", StatusError),
		newResult("leaf2", "VerifyNTP", StatusSkipped),
		newResult("spine1", "VerifyNTP", StatusUnset),
	)

	assert.Equal(t, 5, m.Len())
	assert.Equal(t, []string{"leaf1", "leaf2", "spine1"}, m.Devices())
	assert.Equal(t, []string{"VerifyNTP", "VerifyUptime"}, m.Checks())

	s := m.Summary()
	assert.Equal(t, Summary{Total: 5, Unset: 1, Success: 1, Failure: 1, Error: 1, Skipped: 1}, s)
	assert.Equal(t, 1, s.Count(StatusError))

	failed := m.Filter(StatusFailure, StatusError)
	require.Len(t, failed, 2)
	assert.Equal(t, "VerifyUptime", failed[0].Check)
	assert.Equal(t, "VerifyNTP", failed[1].Check)

	leaf1 := m.ByDevice("leaf1")
	require.Len(t, leaf1, 2)
	assert.Equal(t, "VerifyUptime", leaf1[0].Check)

	assert.Len(t, m.ByCheck("VerifyNTP"), 3)
	assert.Len(t, m.Snapshots(), 5)
}

// TestManager_Status tests overall status and exit codes
func TestManager_Status(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []Status
		ignoreError bool
		want        Status
		wantCode    int
	}{
		{name: "empty", want: StatusUnset, wantCode: 0},
		{name: "all success", statuses: []Status{StatusSuccess, StatusSuccess}, want: StatusSuccess, wantCode: 0},
		{name: "skipped only", statuses: []Status{StatusSkipped}, want: StatusSkipped, wantCode: 0},
		{name: "success beats skipped", statuses: []Status{StatusSkipped, StatusSuccess}, want: StatusSuccess, wantCode: 0},
		{name: "failure wins", statuses: []Status{StatusSuccess, StatusFailure, StatusSkipped}, want: StatusFailure, wantCode: 1},
		{name: "error wins", statuses: []Status{StatusFailure, StatusError}, want: StatusError, wantCode: 2},
		{name: "error ignored", statuses: []Status{StatusSuccess, StatusError}, ignoreError: true, want: StatusSuccess, wantCode: 0},
		{name: "error ignored keeps failure", statuses: []Status{StatusFailure, StatusError}, ignoreError: true, want: StatusFailure, wantCode: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			for i, s := range tt.statuses {
				m.Add(newResult("dev", string(rune('a'+i)), s))
			}
			assert.Equal(t, tt.want, m.Status(tt.ignoreError))
			assert.Equal(t, tt.wantCode, m.ExitCode(tt.ignoreError))
		})
	}
}

// TestManager_ConcurrentAdd tests concurrent appends
func TestManager_ConcurrentAdd(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(New("dev", "check", nil, ""))
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, m.Len())
}
