// Package devicetest provides an in-memory transport for tests of packages
// that drive devices.
package devicetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stone-age-io/fleetcheck/internal/device"
	"go.uber.org/zap"
)

// Transport answers commands from a canned map keyed by command line. A
// non-nil Mapping restricts it to a fixed command set, rejected through
// Supports like the fixed-mapping transports do.
type Transport struct {
	Outputs     map[string]string
	Unsupported map[string]bool
	Mapping     map[string]bool
	ExecErr     error
	Model       string
	ProbeErr    error
	Delay       time.Duration
	Host        string

	mu    sync.Mutex
	calls atomic.Int64
	seen  []string
}

// Kind implements device.Transport
func (f *Transport) Kind() string { return "fake" }

// Key implements device.Transport
func (f *Transport) Key() string {
	if f.Host == "" {
		return "fake-host"
	}
	return f.Host
}

// Execute implements device.Transport
func (f *Transport) Execute(ctx context.Context, cmd *device.Command) (device.Reply, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, cmd.Line())
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return device.Reply{}, ctx.Err()
		}
	}
	if f.ExecErr != nil {
		return device.Reply{}, f.ExecErr
	}
	if f.Unsupported[cmd.Line()] {
		return device.Reply{
			Errors:      []string{fmt.Sprintf("%q is not supported on this hardware platform", cmd.Line())},
			Unsupported: true,
		}, nil
	}
	out, ok := f.Outputs[cmd.Line()]
	if !ok {
		return device.Reply{Errors: []string{fmt.Sprintf("invalid command %q", cmd.Line())}}, nil
	}
	return device.Reply{Output: []byte(out)}, nil
}

// Supports implements device.CommandSupporter
func (f *Transport) Supports(cmd *device.Command) error {
	if f.Mapping == nil || f.Mapping[cmd.Line()] {
		return nil
	}
	return fmt.Errorf("%w: %q through fake", device.ErrUnsupportedCommand, cmd.Line())
}

// Probe implements device.Transport
func (f *Transport) Probe(ctx context.Context) (string, error) {
	return f.Model, f.ProbeErr
}

// Calls returns how many times Execute ran
func (f *Transport) Calls() int64 {
	return f.calls.Load()
}

// Seen returns the executed command lines in call order
func (f *Transport) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

// NewDevice builds a device on a fake transport
func NewDevice(name string, tags []string, tr *Transport) *device.Device {
	return device.New(device.Options{Name: name, Tags: tags, Logger: zap.NewNop()}, tr)
}
