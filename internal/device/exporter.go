package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// exporter commands: "metrics" returns every family, "metric <name>" one family
const (
	exporterAllMetrics = "metrics"
	exporterOneMetric  = "metric "
)

// ExporterConfig holds settings for scraping a device-side Prometheus exporter
type ExporterConfig struct {
	URL   string
	Model string // exporters carry no identity, so the model is declared
}

// Exporter answers metric queries by scraping a Prometheus text endpoint
type Exporter struct {
	cfg        ExporterConfig
	httpClient *http.Client
}

// NewExporter creates an exporter transport
func NewExporter(cfg ExporterConfig, httpClient *http.Client) *Exporter {
	return &Exporter{cfg: cfg, httpClient: httpClient}
}

func (e *Exporter) Kind() string { return "exporter" }

func (e *Exporter) Key() string {
	u, err := url.Parse(e.cfg.URL)
	if err != nil || u.Host == "" {
		return e.cfg.URL
	}
	return u.Host + u.Path
}

// Supports accepts the two metric query forms
func (e *Exporter) Supports(cmd *Command) error {
	if cmd.Format() != FormatJSON {
		return fmt.Errorf("%w: exporter only returns json output", ErrUnsupportedCommand)
	}
	line := cmd.Line()
	if line == exporterAllMetrics || strings.HasPrefix(line, exporterOneMetric) {
		return nil
	}
	return fmt.Errorf("%w: %q on exporter", ErrUnsupportedCommand, line)
}

// Execute scrapes the endpoint and returns the requested families
func (e *Exporter) Execute(ctx context.Context, cmd *Command) (Reply, error) {
	if err := e.Supports(cmd); err != nil {
		return Reply{}, err
	}

	families, err := e.scrape(ctx)
	if err != nil {
		return Reply{}, err
	}

	if cmd.Line() != exporterAllMetrics {
		name := strings.TrimSpace(strings.TrimPrefix(cmd.Line(), exporterOneMetric))
		mf, ok := families[name]
		if !ok {
			return Reply{Errors: []string{fmt.Sprintf("metric %s not exposed", name)}}, nil
		}
		families = map[string]*dto.MetricFamily{name: mf}
	}

	out, err := json.Marshal(map[string]any{"families": familiesToOutput(families)})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return Reply{Output: out}, nil
}

// Probe scrapes once and returns the declared model
func (e *Exporter) Probe(ctx context.Context) (string, error) {
	if _, err := e.scrape(ctx); err != nil {
		return "", err
	}
	return e.cfg.Model, nil
}

func (e *Exporter) scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "fleetcheck/1.0")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: metrics scrape timeout: %v", ErrUnreachable, err)
		}
		return nil, fmt.Errorf("%w: failed to fetch metrics: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Read response body with size limit to prevent memory issues
	return parseMetricFamilies(io.LimitReader(resp.Body, 10*1024*1024))
}

// parseMetricFamilies decodes Prometheus text format
func parseMetricFamilies(reader io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(reader, expfmt.FmtText)

	families := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := decoder.Decode(mf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode metric family: %w", err)
		}
		families[mf.GetName()] = mf
	}
	return families, nil
}

type sampleOutput struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type familyOutput struct {
	Type    string         `json:"type"`
	Help    string         `json:"help,omitempty"`
	Samples []sampleOutput `json:"samples"`
}

func familiesToOutput(families map[string]*dto.MetricFamily) map[string]familyOutput {
	out := make(map[string]familyOutput, len(families))
	for name, mf := range families {
		fo := familyOutput{Type: mf.GetType().String(), Help: mf.GetHelp()}
		for _, m := range mf.GetMetric() {
			v := metricValue(m)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			fo.Samples = append(fo.Samples, sampleOutput{Labels: labelMap(m.GetLabel()), Value: v})
		}
		sort.Slice(fo.Samples, func(i, j int) bool {
			return labelString(fo.Samples[i].Labels) < labelString(fo.Samples[j].Labels)
		})
		out[name] = fo
	}
	return out
}

// metricValue reads the scalar value; histograms and summaries report the sample count
func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	case m.Histogram != nil:
		return float64(m.Histogram.GetSampleCount())
	case m.Summary != nil:
		return float64(m.Summary.GetSampleCount())
	}
	return math.NaN()
}

func labelMap(labels []*dto.LabelPair) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

func labelString(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
