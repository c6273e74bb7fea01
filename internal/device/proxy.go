package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Requester sends a request and waits for one reply.
// The NATS client satisfies it.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// ProxyConfig holds settings for devices reached through a telemetry agent
// listening on NATS
type ProxyConfig struct {
	SubjectPrefix string // e.g. "gnmi"
	Target        string // device id as known to the proxy
	Timeout       time.Duration
}

// Proxy forwards show commands to a streaming-telemetry agent over
// request/reply
type Proxy struct {
	cfg       ProxyConfig
	requester Requester
}

// NewProxy creates a proxy transport
func NewProxy(cfg ProxyConfig, requester Requester) *Proxy {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Proxy{cfg: cfg, requester: requester}
}

func (p *Proxy) Kind() string { return "proxy" }

func (p *Proxy) Key() string { return p.subject() }

func (p *Proxy) subject() string {
	return fmt.Sprintf("%s.%s.cmd.show", p.cfg.SubjectPrefix, p.cfg.Target)
}

type proxyRequest struct {
	Command  string `json:"command"`
	Format   string `json:"format"`
	Revision int    `json:"revision,omitempty"`
	Version  string `json:"version,omitempty"`
}

type proxyResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Execute sends the command and decodes the reply
func (p *Proxy) Execute(ctx context.Context, cmd *Command) (Reply, error) {
	if p.requester == nil {
		return Reply{}, fmt.Errorf("%w: no message bus connection", ErrUnreachable)
	}

	data, err := json.Marshal(proxyRequest{
		Command:  cmd.Line(),
		Format:   string(cmd.Format()),
		Revision: cmd.Revision(),
		Version:  cmd.Version(),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	raw, err := p.requester.Request(ctx, p.subject(), data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Reply{}, fmt.Errorf("%w: proxy request timeout: %v", ErrUnreachable, err)
		}
		return Reply{}, fmt.Errorf("%w: proxy request: %v", ErrUnreachable, err)
	}

	var resp proxyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Reply{}, fmt.Errorf("failed to decode proxy response: %w", err)
	}
	if resp.Status != "success" {
		msg := resp.Error
		if msg == "" {
			msg = "proxy returned status " + resp.Status
		}
		return Reply{Errors: []string{msg}, Unsupported: resp.Status == "unsupported"}, nil
	}

	out := []byte(resp.Output)
	if cmd.Format() == FormatText {
		// text output travels as a JSON string
		var s string
		if err := json.Unmarshal(resp.Output, &s); err == nil {
			out = []byte(s)
		}
	}
	return Reply{Output: out}, nil
}

// Probe asks the proxy for show version
func (p *Proxy) Probe(ctx context.Context) (string, error) {
	reply, err := p.Execute(ctx, Template{Text: "show version"}.MustRender())
	if err != nil {
		return "", err
	}
	if reply.Failed() {
		return "", fmt.Errorf("show version failed: %s", reply.Errors[0])
	}
	return gjson.GetBytes(reply.Output, "modelName").String(), nil
}
