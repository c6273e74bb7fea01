package result

import (
	"fmt"
	"strings"
	"sync"
)

// Status is the verdict of one (device, check) pair
type Status string

const (
	StatusUnset   Status = "unset"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Statuses lists every status in report order
var Statuses = []Status{StatusUnset, StatusSuccess, StatusFailure, StatusError, StatusSkipped}

// Result holds the verdict and messages for one device and one check.
// It starts unset and moves to a terminal status once. Failure may collect
// further messages, and an error raised after a failure replaces it.
type Result struct {
	Device      string
	Check       string
	Categories  []string
	Description string

	mu       sync.RWMutex
	status   Status
	messages []string
}

// New creates an unset result
func New(device, check string, categories []string, description string) *Result {
	return &Result{
		Device:      device,
		Check:       check,
		Categories:  append([]string(nil), categories...),
		Description: description,
		status:      StatusUnset,
	}
}

// Status returns the current status
func (r *Result) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Messages returns a copy of the messages
func (r *Result) Messages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.messages...)
}

func (r *Result) transition(to Status, allowed []Status, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range allowed {
		if r.status == s {
			r.status = to
			if msg != "" {
				r.messages = append(r.messages, msg)
			}
			return true
		}
	}
	return false
}

// Success marks the result successful. Only an unset result can succeed.
func (r *Result) Success(msg ...string) bool {
	return r.transition(StatusSuccess, []Status{StatusUnset}, strings.Join(msg, "; "))
}

// Skipped marks the result skipped. Only an unset result can be skipped.
func (r *Result) Skipped(msg string) bool {
	return r.transition(StatusSkipped, []Status{StatusUnset}, msg)
}

// Failure marks the result failed, appending msg. Repeated calls accumulate messages.
func (r *Result) Failure(msg string) bool {
	return r.transition(StatusFailure, []Status{StatusUnset, StatusFailure}, msg)
}

// Failuref formats a failure message
func (r *Result) Failuref(format string, args ...any) bool {
	return r.Failure(fmt.Sprintf(format, args...))
}

// Error marks the result errored. It supersedes a failure.
func (r *Result) Error(msg string) bool {
	return r.transition(StatusError, []Status{StatusUnset, StatusFailure}, msg)
}

// IsUnset reports whether no verdict has been recorded yet
func (r *Result) IsUnset() bool {
	return r.Status() == StatusUnset
}

// Snapshot is an immutable copy suitable for encoding
type Snapshot struct {
	Device      string   `json:"device"`
	Check       string   `json:"check"`
	Categories  []string `json:"categories,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Messages    []string `json:"messages,omitempty"`
}

// Snapshot copies the result
func (r *Result) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Device:      r.Device,
		Check:       r.Check,
		Categories:  append([]string(nil), r.Categories...),
		Description: r.Description,
		Status:      r.status,
		Messages:    append([]string(nil), r.messages...),
	}
}

func (r *Result) String() string {
	return fmt.Sprintf("%s/%s: %s", r.Device, r.Check, r.Status())
}
