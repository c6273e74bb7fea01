package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultEAPIMaxInflight bounds concurrent requests to one device
	DefaultEAPIMaxInflight = 100

	eapiPath = "/command-api"

	// maximum accepted response body size
	eapiMaxBody = 32 * 1024 * 1024
)

// unsupported platform marker returned by EOS for commands a model lacks
const eapiUnsupportedMarker = "not supported on this hardware platform"

// EAPIConfig holds connection settings for the EOS command API
type EAPIConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Enable         bool
	EnablePassword string
	Insecure       bool // plain HTTP
	MaxInflight    int64
	RequestPrefix  string
}

// EAPI talks JSON-RPC runCmds to an EOS device
type EAPI struct {
	cfg    EAPIConfig
	url    string
	client *http.Client
	sem    *semaphore.Weighted
	seq    atomic.Uint64
}

// NewEAPI creates an eAPI transport. The HTTP client is shared across devices.
func NewEAPI(cfg EAPIConfig, client *http.Client) *EAPI {
	scheme := "https"
	if cfg.Insecure {
		scheme = "http"
	}
	if cfg.Port == 0 {
		cfg.Port = 443
		if cfg.Insecure {
			cfg.Port = 80
		}
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultEAPIMaxInflight
	}
	if cfg.RequestPrefix == "" {
		cfg.RequestPrefix = "fleetcheck"
	}

	return &EAPI{
		cfg:    cfg,
		url:    fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), eapiPath),
		client: client,
		sem:    semaphore.NewWeighted(cfg.MaxInflight),
	}
}

func (e *EAPI) Kind() string { return "eapi" }

func (e *EAPI) Key() string { return net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port)) }

type eapiRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  eapiParams `json:"params"`
	ID      string     `json:"id"`
}

type eapiParams struct {
	Version    any    `json:"version"`
	Cmds       []any  `json:"cmds"`
	Format     string `json:"format"`
	Timestamps bool   `json:"timestamps"`
}

type eapiCmd struct {
	Cmd      string `json:"cmd"`
	Input    string `json:"input,omitempty"`
	Revision int    `json:"revision,omitempty"`
}

// buildRequest builds the runCmds payload, prepending enable when configured
func (e *EAPI) buildRequest(cmd *Command) eapiRequest {
	var cmds []any
	if e.cfg.Enable {
		if e.cfg.EnablePassword != "" {
			cmds = append(cmds, eapiCmd{Cmd: "enable", Input: e.cfg.EnablePassword})
		} else {
			cmds = append(cmds, "enable")
		}
	}
	if cmd.Revision() > 0 {
		cmds = append(cmds, eapiCmd{Cmd: cmd.Line(), Revision: cmd.Revision()})
	} else {
		cmds = append(cmds, cmd.Line())
	}

	var version any = VersionLatest
	if v, err := strconv.Atoi(cmd.Version()); err == nil {
		version = v
	}

	return eapiRequest{
		JSONRPC: "2.0",
		Method:  "runCmds",
		Params: eapiParams{
			Version: version,
			Cmds:    cmds,
			Format:  string(cmd.Format()),
		},
		ID: fmt.Sprintf("%s-%d", e.cfg.RequestPrefix, e.seq.Add(1)),
	}
}

// Execute runs one command. At most MaxInflight requests are outstanding per
// device.
func (e *EAPI) Execute(ctx context.Context, cmd *Command) (Reply, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Reply{}, fmt.Errorf("waiting for eapi slot: %w", err)
	}
	defer e.sem.Release(1)

	body, err := json.Marshal(e.buildRequest(cmd))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fleetcheck/1.0")
	if e.cfg.Username != "" {
		req.SetBasicAuth(e.cfg.Username, e.cfg.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Reply{}, fmt.Errorf("%w: eapi request timeout: %v", ErrUnreachable, err)
		}
		return Reply{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, eapiMaxBody))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Reply{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return e.parseResponse(cmd, data)
}

// parseResponse extracts the last command's output or its errors
func (e *EAPI) parseResponse(cmd *Command, data []byte) (Reply, error) {
	if !gjson.ValidBytes(data) {
		return Reply{}, fmt.Errorf("invalid JSON-RPC response")
	}
	doc := gjson.ParseBytes(data)

	if rpcErr := doc.Get("error"); rpcErr.Exists() {
		errs := eapiCommandErrors(rpcErr)
		return Reply{Errors: errs, Unsupported: anyContains(errs, eapiUnsupportedMarker)}, nil
	}

	results := doc.Get("result").Array()
	if len(results) == 0 {
		return Reply{}, fmt.Errorf("empty result in JSON-RPC response")
	}
	last := results[len(results)-1]

	if cmd.Format() == FormatText {
		return Reply{Output: []byte(last.Get("output").String())}, nil
	}
	return Reply{Output: []byte(last.Raw)}, nil
}

// eapiCommandErrors prefers the per-command errors over the summary message
func eapiCommandErrors(rpcErr gjson.Result) []string {
	var errs []string
	rpcErr.Get("data").ForEach(func(_, v gjson.Result) bool {
		v.Get("errors").ForEach(func(_, e gjson.Result) bool {
			errs = append(errs, e.String())
			return true
		})
		return true
	})
	if len(errs) > 0 {
		return errs
	}

	msg := rpcErr.Get("message").String()
	if i := strings.Index(msg, "failed: "); i >= 0 {
		msg = msg[i+len("failed: "):]
	}
	return []string{fmt.Sprintf("%s (code %d)", msg, rpcErr.Get("code").Int())}
}

func anyContains(items []string, sub string) bool {
	for _, s := range items {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Probe runs show version and returns modelName
func (e *EAPI) Probe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := Template{Text: "show version", Revision: 1}.MustRender()
	reply, err := e.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	if reply.Failed() {
		return "", fmt.Errorf("show version failed: %s", strings.Join(reply.Errors, "; "))
	}
	return gjson.GetBytes(reply.Output, "modelName").String(), nil
}
