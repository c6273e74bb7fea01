package device

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Format is the output format requested from a device
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// VersionLatest asks the device for the newest available output model
const VersionLatest = "latest"

// ErrMissingParam is returned when a template placeholder has no bound value
var ErrMissingParam = errors.New("missing template parameter")

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Template is a command a check declares before it is bound to a device.
// Placeholders use the {name} form and are filled from check inputs.
type Template struct {
	Text     string
	Revision int
	Version  string
	Format   Format
	NoCache  bool
}

// Params returns the placeholder names in order of first appearance
func (t Template) Params() []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(t.Text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render binds params to the template and returns a fresh command
func (t Template) Render(params map[string]string) (*Command, error) {
	var missing []string
	line := placeholderRe.ReplaceAllStringFunc(t.Text, func(s string) string {
		name := s[1 : len(s)-1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return s
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w for %q: %s", ErrMissingParam, t.Text, strings.Join(missing, ", "))
	}

	format := t.Format
	if format == "" {
		format = FormatJSON
	}
	version := t.Version
	if version == "" {
		version = VersionLatest
	}

	bound := make(map[string]string, len(params))
	for k, v := range params {
		bound[k] = v
	}

	return &Command{
		template: t,
		params:   bound,
		line:     strings.TrimSpace(line),
		revision: t.Revision,
		version:  version,
		format:   format,
		noCache:  t.NoCache,
	}, nil
}

// MustRender renders a template that has no placeholders
func (t Template) MustRender() *Command {
	cmd, err := t.Render(nil)
	if err != nil {
		panic(err)
	}
	return cmd
}

// Reply is what a transport hands back for one command
type Reply struct {
	Output      []byte
	Errors      []string
	Unsupported bool
}

// Failed reports whether the reply carries any error
func (r Reply) Failed() bool {
	return len(r.Errors) > 0
}

// Command is one request to a device together with its result slots.
// The result slots are written once by the owning device.
type Command struct {
	template Template
	params   map[string]string
	line     string
	revision int
	version  string
	format   Format
	noCache  bool

	once        sync.Once
	mu          sync.RWMutex
	collected   bool
	output      []byte
	errors      []string
	unsupported bool
}

// Line returns the rendered command text
func (c *Command) Line() string { return c.line }

// Revision returns the requested output revision, 0 when unset
func (c *Command) Revision() int { return c.revision }

// Version returns the requested API version
func (c *Command) Version() string { return c.version }

// Format returns the requested output format
func (c *Command) Format() Format { return c.format }

// Template returns the template the command was rendered from
func (c *Command) Template() Template { return c.template }

// Param returns a bound template parameter
func (c *Command) Param(name string) string { return c.params[name] }

// NoCache reports whether the command bypasses the device cache
func (c *Command) NoCache() bool { return c.noCache }

// Key identifies the command for caching. It never changes after rendering.
func (c *Command) Key() string {
	return fmt.Sprintf("%s|rev=%d|ver=%s|fmt=%s", c.line, c.revision, c.version, c.format)
}

func (c *Command) String() string {
	return c.line
}

// fill stores the reply. Only the first call has any effect.
func (c *Command) fill(r Reply) {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.collected = true
		c.output = r.Output
		c.errors = append([]string(nil), r.Errors...)
		c.unsupported = r.Unsupported
	})
}

// Collected reports whether the command has been filled
func (c *Command) Collected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collected
}

// Errors returns the collection errors
func (c *Command) Errors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.errors...)
}

// Failed reports whether collection produced any error
func (c *Command) Failed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errors) > 0
}

// Unsupported reports whether the device rejected the command as not
// supported on its platform
func (c *Command) Unsupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unsupported
}

// Raw returns the collected output bytes
func (c *Command) Raw() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.output
}

// Text returns the collected output as a string
func (c *Command) Text() string {
	return string(c.Raw())
}

// JSON returns the parsed output document
func (c *Command) JSON() gjson.Result {
	return gjson.ParseBytes(c.Raw())
}

// Lookup reads a gjson path from the parsed output
func (c *Command) Lookup(path string) gjson.Result {
	return gjson.GetBytes(c.Raw(), path)
}

// EscapeKey escapes a literal key (an IP address, an interface name) for use
// as one gjson path component
func EscapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
