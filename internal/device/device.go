package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrUnreachable marks transport failures where the device could not be
	// reached at all
	ErrUnreachable = errors.New("device unreachable")

	// ErrUnsupportedCommand is returned for commands a transport has no
	// handler for
	ErrUnsupportedCommand = errors.New("command not supported by transport")
)

// State is the reachability state of a device
type State int

const (
	StateUnknown State = iota
	StateOnline
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Transport reaches one device
type Transport interface {
	// Kind names the reachability method (eapi, ssh, snmp, ...)
	Kind() string

	// Key identifies the remote end, e.g. host:port
	Key() string

	// Execute runs one command. Transport failures are returned as errors;
	// device-side command errors belong in Reply.Errors.
	Execute(ctx context.Context, cmd *Command) (Reply, error)

	// Probe checks reachability and returns the hardware model.
	// Errors wrapping ErrUnreachable mean the device did not answer at all.
	Probe(ctx context.Context) (string, error)
}

// CommandSupporter is implemented by transports with a fixed command mapping
type CommandSupporter interface {
	Supports(cmd *Command) error
}

// Options configures a device
type Options struct {
	Name         string
	Tags         []string
	DisableCache bool
	Logger       *zap.Logger
}

// Device is one managed network element and the means to query it
type Device struct {
	name      string
	tags      map[string]struct{}
	transport Transport
	cache     *Cache
	logger    *zap.Logger

	mu      sync.RWMutex
	state   State
	hwModel string

	collections atomic.Int64
}

// New creates a device. The device name is always one of its tags.
func New(opts Options, transport Transport) *Device {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tags := make(map[string]struct{}, len(opts.Tags)+1)
	for _, t := range opts.Tags {
		if t != "" {
			tags[t] = struct{}{}
		}
	}
	tags[opts.Name] = struct{}{}

	return &Device{
		name:      opts.Name,
		tags:      tags,
		transport: transport,
		cache:     NewCache(!opts.DisableCache),
		logger:    logger.With(zap.String("device", opts.Name), zap.String("transport", transport.Kind())),
	}
}

// Name returns the unique device name
func (d *Device) Name() string { return d.name }

// Kind returns the transport kind
func (d *Device) Kind() string { return d.transport.Kind() }

// Key identifies the device by transport kind and remote end
func (d *Device) Key() string {
	return fmt.Sprintf("%s://%s", d.transport.Kind(), d.transport.Key())
}

// Tags returns the device tags sorted
func (d *Device) Tags() []string {
	out := make([]string, 0, len(d.tags))
	for t := range d.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HasTag reports whether the device carries tag
func (d *Device) HasTag(tag string) bool {
	_, ok := d.tags[tag]
	return ok
}

// State returns the last refreshed reachability state
func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Established reports whether identity and reachability are confirmed
func (d *Device) Established() bool {
	return d.State() == StateEstablished
}

// HWModel returns the hardware model learned on refresh
func (d *Device) HWModel() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hwModel
}

// Refresh probes the device and updates its state. Failures are logged, not
// returned. Calling it again simply probes again.
func (d *Device) Refresh(ctx context.Context) {
	model, err := d.transport.Probe(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case err == nil && model != "":
		d.state = StateEstablished
		d.hwModel = model
		d.logger.Debug("Device established", zap.String("hw_model", model))
	case err == nil:
		d.state = StateOnline
		d.logger.Warn("Device reachable but hardware model is unknown")
	case errors.Is(err, ErrUnreachable):
		d.state = StateUnknown
		d.logger.Warn("Device unreachable", zap.Error(err))
	default:
		d.state = StateOnline
		d.logger.Warn("Could not establish device identity", zap.Error(err))
	}
}

// Supports checks a command against the transport's fixed mapping, if any
func (d *Device) Supports(cmd *Command) error {
	if s, ok := d.transport.(CommandSupporter); ok {
		return s.Supports(cmd)
	}
	return nil
}

// Collect executes a command and fills it. It never returns an error: a
// transport failure becomes a command error.
func (d *Device) Collect(ctx context.Context, cmd *Command) {
	cmd.fill(d.execute(ctx, cmd))
}

func (d *Device) execute(ctx context.Context, cmd *Command) Reply {
	d.collections.Add(1)

	if err := d.Supports(cmd); err != nil {
		return Reply{Errors: []string{err.Error()}, Unsupported: true}
	}

	reply, err := d.transport.Execute(ctx, cmd)
	if err != nil {
		d.logger.Warn("Command collection failed",
			zap.String("command", cmd.Line()),
			zap.Error(err))
		return Reply{Errors: []string{err.Error()}, Unsupported: errors.Is(err, ErrUnsupportedCommand)}
	}
	if reply.Failed() {
		d.logger.Debug("Command returned errors",
			zap.String("command", cmd.Line()),
			zap.Strings("errors", reply.Errors))
	}
	return reply
}

// GetOrCollect fills cmd through the device cache. Identical commands are
// collected at most once per run.
func (d *Device) GetOrCollect(ctx context.Context, cmd *Command) {
	if cmd.NoCache() {
		cmd.fill(d.execute(ctx, cmd))
		return
	}

	reply, hit := d.cache.GetOrCompute(cmd.Key(), func() Reply {
		return d.execute(ctx, cmd)
	})
	if hit {
		d.logger.Debug("Cache hit", zap.String("command", cmd.Line()))
	}
	cmd.fill(reply)
}

// Collections returns how many transport executions the device performed
func (d *Device) Collections() int64 {
	return d.collections.Load()
}

// CacheStats returns the cache accounting for the current run
func (d *Device) CacheStats() CacheStats {
	return d.cache.Stats()
}

// CacheEnabled reports whether replies are cached
func (d *Device) CacheEnabled() bool {
	return d.cache.Enabled()
}

// ResetCache clears cached replies and counters
func (d *Device) ResetCache() {
	d.cache.Reset()
}

// Close releases transport resources such as SSH or SNMP sessions
func (d *Device) Close() error {
	if c, ok := d.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
