// Package runner plans (device, check) pairs and executes them under one
// global concurrency bound.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/stone-age-io/fleetcheck/internal/catalog"
	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/stone-age-io/fleetcheck/internal/inventory"
	"github.com/stone-age-io/fleetcheck/internal/result"
	"go.uber.org/zap"
)

// DefaultConcurrency is used when the runner is created with a non-positive bound
const DefaultConcurrency = 50

// Filters narrow down what a run targets
type Filters struct {
	Devices         []string `json:"devices,omitempty"`
	Checks          []string `json:"checks,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	EstablishedOnly bool     `json:"established_only,omitempty"`
}

// Outcome summarizes one run
type Outcome struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Devices   int           `json:"devices"`
	Units     int           `json:"units"`
	DryRun    bool          `json:"dry_run"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Runner executes checks against devices
type Runner struct {
	logger      *zap.Logger
	concurrency int
	stats       *Stats
}

// New creates a runner. concurrency is the global bound on in-flight units
// and device refreshes.
func New(logger *zap.Logger, concurrency int) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		logger:      logger,
		concurrency: concurrency,
		stats:       &Stats{startTime: time.Now()},
	}
}

// Concurrency returns the global bound
func (r *Runner) Concurrency() int {
	return r.concurrency
}

type plannedDevice struct {
	dev  *device.Device
	defs []*catalog.Definition
}

// Run plans and executes a run, appending one result per planned pair to mgr.
// Only configuration errors are returned; they occur before any result exists.
func (r *Runner) Run(ctx context.Context, inv *inventory.Inventory, cat *catalog.Catalog, mgr *result.Manager, filters Filters, dryRun bool) (*Outcome, error) {
	out := &Outcome{RunID: uuid.New().String(), StartedAt: time.Now(), DryRun: dryRun}
	logger := r.logger.With(zap.String("run_id", out.RunID))
	defer func() { out.Duration = time.Since(out.StartedAt) }()

	if inv.Len() == 0 {
		out.Message = "The inventory is empty, nothing to run"
		logger.Info(out.Message)
		r.stats.recordRun(out)
		return out, nil
	}

	candidates := inv.Filter(filters.Devices, filters.Tags)
	if !dryRun {
		candidates.Connect(ctx, r.concurrency)
		if filters.EstablishedOnly {
			candidates = candidates.Established()
		}
	}
	if candidates.Len() == 0 {
		out.Message = "No device in the inventory matches the filters"
		logger.Info(out.Message, zap.Any("filters", filters))
		r.stats.recordRun(out)
		return out, nil
	}

	if err := cat.BuildIndexes(filters.Checks...); err != nil {
		r.stats.recordError(err)
		return nil, fmt.Errorf("invalid check filter: %w", err)
	}

	plan := r.plan(candidates, cat, filters.Tags, logger)
	out.Devices = len(plan)
	for _, p := range plan {
		out.Units += len(p.defs)
	}
	if out.Units == 0 {
		out.Message = "No check selected for the targeted devices"
		logger.Info(out.Message, zap.Any("filters", filters))
		r.stats.recordRun(out)
		return out, nil
	}

	units := r.prepare(plan, mgr, logger)

	if dryRun {
		out.Message = fmt.Sprintf("Dry run: %d checks planned on %d devices", out.Units, out.Devices)
		logger.Info(out.Message)
		r.stats.recordRun(out)
		return out, nil
	}

	for _, p := range plan {
		p.dev.ResetCache()
	}

	logger.Info("Running checks",
		zap.Int("devices", out.Devices),
		zap.Int("units", out.Units),
		zap.Int("concurrency", r.concurrency))

	if out.Units > r.concurrency {
		logger.Debug("More units than the concurrency bound, units will queue",
			zap.Int("units", out.Units),
			zap.Int("concurrency", r.concurrency))
	}

	p := pool.New().WithMaxGoroutines(r.concurrency)
	for _, u := range units {
		p.Go(func() {
			u.Run(ctx)
		})
	}
	p.Wait()

	for _, pd := range plan {
		if pd.dev.CacheEnabled() {
			logger.Info("Device cache statistics",
				zap.String("device", pd.dev.Name()),
				zap.Stringer("cache", pd.dev.CacheStats()))
		}
	}

	r.stats.recordRun(out)
	r.stats.recordUnits(int64(len(units)))
	return out, nil
}

// plan selects the definitions for each candidate device in catalog order.
// Devices sharing a transport identity are planned once, devices left
// without definitions are not planned.
func (r *Runner) plan(candidates *inventory.Inventory, cat *catalog.Catalog, filterTags []string, logger *zap.Logger) []plannedDevice {
	seen := make(map[string]string)
	var plan []plannedDevice

	position := make(map[*catalog.Definition]int, cat.Len())
	for i, d := range cat.Definitions() {
		position[d] = i
	}

	for _, dev := range candidates.Devices() {
		if first, dup := seen[dev.Key()]; dup {
			logger.Warn("Device shares its identity with another device, skipping",
				zap.String("device", dev.Name()),
				zap.String("duplicate_of", first),
				zap.String("key", dev.Key()))
			continue
		}
		seen[dev.Key()] = dev.Name()

		var defs []*catalog.Definition
		if len(filterTags) > 0 {
			var matching []string
			for _, t := range filterTags {
				if dev.HasTag(t) {
					matching = append(matching, t)
				}
			}
			defs = cat.ChecksForTags(matching...)
		} else {
			defs = append(cat.ChecksWithNoTag(), cat.ChecksForTags(dev.Tags()...)...)
		}

		defs = dedup(defs)
		if len(defs) == 0 {
			continue
		}
		sort.SliceStable(defs, func(i, j int) bool { return position[defs[i]] < position[defs[j]] })
		plan = append(plan, plannedDevice{dev: dev, defs: defs})
	}
	return plan
}

func dedup(defs []*catalog.Definition) []*catalog.Definition {
	seen := make(map[*catalog.Definition]bool, len(defs))
	out := defs[:0:0]
	for _, d := range defs {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// prepare registers one unset result per pair, then builds the units. A unit
// whose commands the transport cannot serve is skipped; any other unit that
// cannot be built leaves its result marked as error.
func (r *Runner) prepare(plan []plannedDevice, mgr *result.Manager, logger *zap.Logger) []*check.Unit {
	var units []*check.Unit
	for _, pd := range plan {
		for _, def := range pd.defs {
			res := result.New(pd.dev.Name(), def.Name, def.Test.Categories, def.Test.Description)
			mgr.Add(res)

			u, err := check.NewUnit(pd.dev, def.Test, def.Inputs, res, logger)
			if errors.Is(err, device.ErrUnsupportedCommand) {
				logger.Info("Check not supported by the device transport",
					zap.String("device", pd.dev.Name()),
					zap.String("check", def.Name),
					zap.Error(err))
				res.Skipped(fmt.Sprintf("%s check is not supported on this platform: %v", def.Name, err))
				continue
			}
			if err != nil {
				hint := "verify the check inputs in the catalog"
				if def.Test.Custom {
					hint = "this is a custom check, verify its definition and inputs"
				}
				logger.Error("Failed to prepare check",
					zap.String("device", pd.dev.Name()),
					zap.String("check", def.Name),
					zap.String("hint", hint),
					zap.Error(err))
				res.Error(fmt.Sprintf("failed to prepare check: %v", err))
				continue
			}
			units = append(units, u)
		}
	}
	return units
}

// Stats returns runner statistics
func (r *Runner) Stats() *Metrics {
	return r.stats.metrics()
}
