package result

import (
	"sort"
	"sync"
)

// Manager collects results in registration order. Results are only ever
// appended; every view is derived from the ordered list.
type Manager struct {
	mu      sync.RWMutex
	results []*Result
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{}
}

// Add appends results
func (m *Manager) Add(results ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
}

// Results returns the results in registration order
func (m *Manager) Results() []*Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Result(nil), m.results...)
}

// Len returns the number of results
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// Summary counts results per status
type Summary struct {
	Total   int `json:"total"`
	Unset   int `json:"unset"`
	Success int `json:"success"`
	Failure int `json:"failure"`
	Error   int `json:"error"`
	Skipped int `json:"skipped"`
}

// Count returns the count for one status
func (s Summary) Count(status Status) int {
	switch status {
	case StatusUnset:
		return s.Unset
	case StatusSuccess:
		return s.Success
	case StatusFailure:
		return s.Failure
	case StatusError:
		return s.Error
	case StatusSkipped:
		return s.Skipped
	}
	return 0
}

// Summary counts results per status
func (m *Manager) Summary() Summary {
	var s Summary
	for _, r := range m.Results() {
		s.Total++
		switch r.Status() {
		case StatusUnset:
			s.Unset++
		case StatusSuccess:
			s.Success++
		case StatusFailure:
			s.Failure++
		case StatusError:
			s.Error++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Filter returns results whose status is one of statuses, in order
func (m *Manager) Filter(statuses ...Status) []*Result {
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []*Result
	for _, r := range m.Results() {
		if want[r.Status()] {
			out = append(out, r)
		}
	}
	return out
}

// ByDevice returns the results of one device, in order
func (m *Manager) ByDevice(name string) []*Result {
	var out []*Result
	for _, r := range m.Results() {
		if r.Device == name {
			out = append(out, r)
		}
	}
	return out
}

// ByCheck returns the results of one check, in order
func (m *Manager) ByCheck(name string) []*Result {
	var out []*Result
	for _, r := range m.Results() {
		if r.Check == name {
			out = append(out, r)
		}
	}
	return out
}

// Devices returns the sorted set of device names with results
func (m *Manager) Devices() []string {
	return m.distinct(func(r *Result) string { return r.Device })
}

// Checks returns the sorted set of check names with results
func (m *Manager) Checks() []string {
	return m.distinct(func(r *Result) string { return r.Check })
}

func (m *Manager) distinct(key func(*Result) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.Results() {
		k := key(r)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// statusRank orders statuses for the overall verdict. Error is tracked apart.
var statusRank = map[Status]int{
	StatusUnset:   0,
	StatusSkipped: 1,
	StatusSuccess: 2,
	StatusFailure: 3,
}

// Status returns the overall status: the highest of unset, skipped, success,
// failure across results. Errors are only reflected when ignoreError is false.
func (m *Manager) Status(ignoreError bool) Status {
	overall := StatusUnset
	for _, r := range m.Results() {
		s := r.Status()
		if s == StatusError {
			if !ignoreError {
				return StatusError
			}
			continue
		}
		if statusRank[s] > statusRank[overall] {
			overall = s
		}
	}
	return overall
}

// Snapshots copies every result in order
func (m *Manager) Snapshots() []Snapshot {
	results := m.Results()
	out := make([]Snapshot, 0, len(results))
	for _, r := range results {
		out = append(out, r.Snapshot())
	}
	return out
}

// ExitCode maps the overall status to a process exit code:
// 0 for success, skipped or nothing run, 1 for failure, 2 for error.
func (m *Manager) ExitCode(ignoreError bool) int {
	switch m.Status(ignoreError) {
	case StatusFailure:
		return 1
	case StatusError:
		return 2
	default:
		return 0
	}
}
