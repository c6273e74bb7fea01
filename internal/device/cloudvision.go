package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// CloudVisionConfig holds settings for reaching a device through CloudVision
type CloudVisionConfig struct {
	URL    string // base URL, e.g. https://cvp.example.net
	Token  string // service account bearer token
	Serial string // device serial number as known to CloudVision
}

type cvHandler func(ctx context.Context, cv *CloudVision) ([]byte, error)

// cvCommands is the complete set of commands answerable through CloudVision.
// Each entry translates telemetry state into the device's native output shape.
var cvCommands = map[string]cvHandler{
	"show version":                cvShowVersion,
	"show interfaces description": cvInterfacesDescription,
	"show lldp neighbors detail":  cvLLDPNeighbors,
}

// CloudVision answers a fixed set of show commands from CloudVision telemetry
type CloudVision struct {
	cfg    CloudVisionConfig
	client *http.Client
}

// NewCloudVision creates a CloudVision transport
func NewCloudVision(cfg CloudVisionConfig, client *http.Client) *CloudVision {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &CloudVision{cfg: cfg, client: client}
}

func (cv *CloudVision) Kind() string { return "cloudvision" }

func (cv *CloudVision) Key() string {
	u, err := url.Parse(cv.cfg.URL)
	if err != nil || u.Host == "" {
		return cv.cfg.URL + "/" + cv.cfg.Serial
	}
	return u.Host + "/" + cv.cfg.Serial
}

// Supports rejects anything outside the static mapping
func (cv *CloudVision) Supports(cmd *Command) error {
	if cmd.Format() != FormatJSON {
		return fmt.Errorf("%w: cloudvision only returns json output", ErrUnsupportedCommand)
	}
	if _, ok := cvCommands[cmd.Line()]; !ok {
		return fmt.Errorf("%w: %q through cloudvision", ErrUnsupportedCommand, cmd.Line())
	}
	return nil
}

// Execute dispatches to the mapped handler
func (cv *CloudVision) Execute(ctx context.Context, cmd *Command) (Reply, error) {
	if err := cv.Supports(cmd); err != nil {
		return Reply{}, err
	}
	out, err := cvCommands[cmd.Line()](ctx, cv)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Output: out}, nil
}

// Probe returns the model CloudVision holds for the device
func (cv *CloudVision) Probe(ctx context.Context) (string, error) {
	out, err := cvShowVersion(ctx, cv)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(out, "modelName").String(), nil
}

// get fetches a CloudVision REST resource
func (cv *CloudVision) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	u := cv.cfg.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cv.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cv.cfg.Token)
	}

	resp, err := cv.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: cloudvision request: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, eapiMaxBody))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("cloudvision %s: unexpected status code: %d", path, resp.StatusCode)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("cloudvision %s: invalid JSON", path)
	}
	return gjson.ParseBytes(data), nil
}

// updates flattens notifications[].updates into key -> value
func updates(doc gjson.Result) map[string]gjson.Result {
	out := make(map[string]gjson.Result)
	doc.Get("notifications").ForEach(func(_, n gjson.Result) bool {
		n.Get("updates").ForEach(func(k, u gjson.Result) bool {
			key := u.Get("key").String()
			if key == "" {
				key = k.String()
			}
			out[key] = u.Get("value")
			return true
		})
		return true
	})
	return out
}

func cvShowVersion(ctx context.Context, cv *CloudVision) ([]byte, error) {
	doc, err := cv.get(ctx, "/api/resources/inventory/v1/Device", url.Values{"key.deviceId": {cv.cfg.Serial}})
	if err != nil {
		return nil, err
	}
	v := doc.Get("value")
	if !v.Exists() {
		return nil, fmt.Errorf("device %s not found in cloudvision inventory", cv.cfg.Serial)
	}
	return json.Marshal(map[string]any{
		"modelName":    v.Get("modelName").String(),
		"version":      v.Get("softwareVersion").String(),
		"serialNumber": v.Get("key.deviceId").String(),
		"hostname":     v.Get("hostname").String(),
	})
}

func cvInterfacesDescription(ctx context.Context, cv *CloudVision) ([]byte, error) {
	doc, err := cv.get(ctx, fmt.Sprintf("/api/v1/rest/%s/Sysdb/interface/config/eth/phy/slice/1/intfConfig", cv.cfg.Serial), nil)
	if err != nil {
		return nil, err
	}

	descriptions := make(map[string]any)
	for name, v := range updates(doc) {
		status := "up"
		if !v.Get("adminEnabled").Bool() {
			status = "adminDown"
		}
		descriptions[name] = map[string]any{
			"description":     v.Get("description").String(),
			"interfaceStatus": status,
		}
	}
	return json.Marshal(map[string]any{"interfaceDescriptions": descriptions})
}

func cvLLDPNeighbors(ctx context.Context, cv *CloudVision) ([]byte, error) {
	doc, err := cv.get(ctx, fmt.Sprintf("/api/v1/rest/%s/Sysdb/l2discovery/lldp/status/local/1/portStatus", cv.cfg.Serial), nil)
	if err != nil {
		return nil, err
	}

	neighbors := make(map[string]any)
	for port, v := range updates(doc) {
		var info []map[string]any
		v.Get("remoteSystem").ForEach(func(_, r gjson.Result) bool {
			info = append(info, map[string]any{
				"systemName": r.Get("sysName.value.value").String(),
				"neighborInterfaceInfo": map[string]any{
					"interfaceId_v2": r.Get("msap.portIdentifier.portId").String(),
				},
			})
			return true
		})
		neighbors[port] = map[string]any{"lldpNeighborInfo": info}
	}
	return json.Marshal(map[string]any{"lldpNeighbors": neighbors})
}
