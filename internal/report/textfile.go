package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/fleetcheck/internal/result"
	"google.golang.org/protobuf/proto"
)

// Metric names written to the textfile
const (
	metricResults      = "fleetcheck_results"
	metricDeviceResult = "fleetcheck_device_results"
	metricLastRun      = "fleetcheck_last_run_timestamp_seconds"
	metricDuration     = "fleetcheck_last_run_duration_seconds"
	metricExitCode     = "fleetcheck_last_run_exit_code"
)

// WriteTextfile writes the run as Prometheus text exposition for the
// node_exporter textfile collector. The file is replaced atomically.
func WriteTextfile(path string, s *Summary, mgr *result.Manager) error {
	var buf bytes.Buffer
	for _, mf := range families(s, mgr) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}

	// Temp file in the same directory so the rename stays atomic
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fleetcheck-*.prom.tmp")
	if err != nil {
		return fmt.Errorf("failed to create textfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write textfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write textfile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write textfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace textfile: %w", err)
	}
	return nil
}

func families(s *Summary, mgr *result.Manager) []*dto.MetricFamily {
	results := gaugeFamily(metricResults, "Number of check results per status in the last run.")
	for _, st := range result.Statuses {
		results.Metric = append(results.Metric, gauge(float64(s.Counts.Count(st)), "status", string(st)))
	}

	perDevice := gaugeFamily(metricDeviceResult, "Number of check results per device and status in the last run.")
	for _, name := range mgr.Devices() {
		counts := make(map[result.Status]int)
		for _, r := range mgr.ByDevice(name) {
			counts[r.Status()]++
		}
		for _, st := range result.Statuses {
			perDevice.Metric = append(perDevice.Metric, gauge(float64(counts[st]), "device", name, "status", string(st)))
		}
	}

	lastRun := gaugeFamily(metricLastRun, "Start time of the last run.")
	lastRun.Metric = append(lastRun.Metric, gauge(float64(s.startedAt.Unix())))

	duration := gaugeFamily(metricDuration, "Duration of the last run.")
	duration.Metric = append(duration.Metric, gauge(s.Duration))

	exitCode := gaugeFamily(metricExitCode, "Exit code of the last run: 0 success, 1 failure, 2 error.")
	exitCode.Metric = append(exitCode.Metric, gauge(float64(s.ExitCode)))

	return []*dto.MetricFamily{results, perDevice, lastRun, duration, exitCode}
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

// gauge builds a sample from a value and label name/value pairs
func gauge(value float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(value)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}
