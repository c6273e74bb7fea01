package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransport answers from a canned map and counts executions
type fakeTransport struct {
	outputs  map[string]string
	execErr  error
	probe    string
	probeErr error
	delay    time.Duration
	calls    atomic.Int32
	closed   bool
	mu       sync.Mutex
}

func (f *fakeTransport) Kind() string { return "fake" }
func (f *fakeTransport) Key() string  { return "fake-host:443" }

func (f *fakeTransport) Execute(ctx context.Context, cmd *Command) (Reply, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.execErr != nil {
		return Reply{}, f.execErr
	}
	out, ok := f.outputs[cmd.Line()]
	if !ok {
		return Reply{Errors: []string{fmt.Sprintf("invalid command %q", cmd.Line())}}, nil
	}
	return Reply{Output: []byte(out)}, nil
}

func (f *fakeTransport) Probe(ctx context.Context) (string, error) {
	return f.probe, f.probeErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newFakeDevice(t *testing.T, tr *fakeTransport, disableCache bool) *Device {
	t.Helper()
	return New(Options{Name: "leaf1", Tags: []string{"leaf", "dc1"}, DisableCache: disableCache, Logger: zap.NewNop()}, tr)
}

// TestDevice_Tags tests that the device name is one of its tags
func TestDevice_Tags(t *testing.T) {
	dev := newFakeDevice(t, &fakeTransport{}, false)

	assert.True(t, dev.HasTag("leaf1"))
	assert.True(t, dev.HasTag("leaf"))
	assert.False(t, dev.HasTag("spine"))
	assert.Equal(t, []string{"dc1", "leaf", "leaf1"}, dev.Tags())
	assert.Equal(t, "fake://fake-host:443", dev.Key())
}

// TestDevice_GetOrCollect_Concurrent tests that identical commands are collected once
func TestDevice_GetOrCollect_Concurrent(t *testing.T) {
	tr := &fakeTransport{
		outputs: map[string]string{"show version": `{"modelName":"DCS-7050"}`},
		delay:   20 * time.Millisecond,
	}
	dev := newFakeDevice(t, tr, false)

	const n = 20
	cmds := make([]*Command, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		cmds[i] = Template{Text: "show version"}.MustRender()
		wg.Add(1)
		go func(c *Command) {
			defer wg.Done()
			dev.GetOrCollect(context.Background(), c)
		}(cmds[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), tr.calls.Load())
	for _, c := range cmds {
		require.True(t, c.Collected())
		assert.Equal(t, "DCS-7050", c.Lookup("modelName").String())
	}
	assert.Equal(t, int64(n-1), dev.CacheStats().Hits)
}

// TestDevice_GetOrCollect_CacheDisabled tests that a no-cache device collects every time
func TestDevice_GetOrCollect_CacheDisabled(t *testing.T) {
	tr := &fakeTransport{outputs: map[string]string{"show version": `{}`}}
	dev := newFakeDevice(t, tr, true)

	dev.GetOrCollect(context.Background(), Template{Text: "show version"}.MustRender())
	dev.GetOrCollect(context.Background(), Template{Text: "show version"}.MustRender())

	assert.Equal(t, int32(2), tr.calls.Load())
	assert.Equal(t, int64(0), dev.CacheStats().Hits)
	assert.False(t, dev.CacheEnabled())
}

// TestDevice_GetOrCollect_NoCacheCommand tests per-command cache bypass
func TestDevice_GetOrCollect_NoCacheCommand(t *testing.T) {
	tr := &fakeTransport{outputs: map[string]string{"show clock": `{}`}}
	dev := newFakeDevice(t, tr, false)

	tpl := Template{Text: "show clock", NoCache: true}
	dev.GetOrCollect(context.Background(), tpl.MustRender())
	dev.GetOrCollect(context.Background(), tpl.MustRender())

	assert.Equal(t, int32(2), tr.calls.Load())
	assert.Equal(t, int64(0), dev.CacheStats().Total)
}

// TestDevice_Collect_TransportError tests that transport failures become command errors
func TestDevice_Collect_TransportError(t *testing.T) {
	tr := &fakeTransport{execErr: fmt.Errorf("%w: connection refused", ErrUnreachable)}
	dev := newFakeDevice(t, tr, false)

	cmd := Template{Text: "show version"}.MustRender()
	dev.Collect(context.Background(), cmd)

	require.True(t, cmd.Collected())
	assert.True(t, cmd.Failed())
	assert.Contains(t, cmd.Errors()[0], "connection refused")
	assert.False(t, cmd.Unsupported())
}

// TestDevice_Collect_CommandError tests device-side command errors
func TestDevice_Collect_CommandError(t *testing.T) {
	dev := newFakeDevice(t, &fakeTransport{outputs: map[string]string{}}, false)

	cmd := Template{Text: "show bogus"}.MustRender()
	dev.Collect(context.Background(), cmd)

	assert.True(t, cmd.Failed())
	assert.Contains(t, cmd.Errors()[0], "invalid command")
}

// TestDevice_Refresh tests reachability state transitions
func TestDevice_Refresh(t *testing.T) {
	tests := []struct {
		name      string
		probe     string
		probeErr  error
		wantState State
		wantModel string
	}{
		{
			name:      "established",
			probe:     "DCS-7280SR",
			wantState: StateEstablished,
			wantModel: "DCS-7280SR",
		},
		{
			name:      "reachable without model",
			probe:     "",
			wantState: StateOnline,
		},
		{
			name:      "identity failure",
			probeErr:  errors.New("401 unauthorized"),
			wantState: StateOnline,
		},
		{
			name:      "unreachable",
			probeErr:  fmt.Errorf("%w: no route to host", ErrUnreachable),
			wantState: StateUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(t, &fakeTransport{probe: tt.probe, probeErr: tt.probeErr}, false)

			dev.Refresh(context.Background())
			assert.Equal(t, tt.wantState, dev.State())
			assert.Equal(t, tt.wantModel, dev.HWModel())
			assert.Equal(t, tt.wantState == StateEstablished, dev.Established())

			// idempotent
			dev.Refresh(context.Background())
			assert.Equal(t, tt.wantState, dev.State())
		})
	}
}

type supportingTransport struct {
	fakeTransport
}

func (s *supportingTransport) Supports(cmd *Command) error {
	if cmd.Line() != "show version" {
		return fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Line())
	}
	return nil
}

// TestDevice_Supports tests fixed command mappings
func TestDevice_Supports(t *testing.T) {
	tr := &supportingTransport{fakeTransport{outputs: map[string]string{"show version": `{}`}}}
	dev := New(Options{Name: "cv1", Logger: zap.NewNop()}, tr)

	assert.NoError(t, dev.Supports(Template{Text: "show version"}.MustRender()))

	cmd := Template{Text: "show ip bgp summary"}.MustRender()
	err := dev.Supports(cmd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedCommand))

	dev.Collect(context.Background(), cmd)
	assert.True(t, cmd.Unsupported())
	assert.Equal(t, int32(0), tr.calls.Load(), "unsupported commands never reach the transport")
}

// TestDevice_ResetCache tests clearing the cache between runs
func TestDevice_ResetCache(t *testing.T) {
	tr := &fakeTransport{outputs: map[string]string{"show version": `{}`}}
	dev := newFakeDevice(t, tr, false)

	dev.GetOrCollect(context.Background(), Template{Text: "show version"}.MustRender())
	dev.ResetCache()
	dev.GetOrCollect(context.Background(), Template{Text: "show version"}.MustRender())

	assert.Equal(t, int32(2), tr.calls.Load())
	assert.Equal(t, int64(1), dev.CacheStats().Total)
}

// TestDevice_Close tests closing the transport
func TestDevice_Close(t *testing.T) {
	tr := &fakeTransport{}
	dev := newFakeDevice(t, tr, false)
	require.NoError(t, dev.Close())
	assert.True(t, tr.closed)
}

// TestState_String tests state names
func TestState_String(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "online", StateOnline.String())
	assert.Equal(t, "established", StateEstablished.String())
}
