package check

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/sourcegraph/conc"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/stone-age-io/fleetcheck/internal/result"
	"go.uber.org/zap"
)

// Unit pairs one device with one check and owns its pre-registered result
type Unit struct {
	Device   *device.Device
	Test     *Test
	Inputs   any
	Commands []*device.Command
	Result   *result.Result

	logger *zap.Logger
}

// NewUnit decodes inputs, renders commands and checks that the device can
// serve them. The result is left untouched; the caller decides what a
// construction failure means for it.
func NewUnit(dev *device.Device, t *Test, rawInputs map[string]any, res *result.Result, logger *zap.Logger) (*Unit, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	inputs, err := DecodeInputs(t, rawInputs)
	if err != nil {
		return nil, err
	}

	cmds, err := RenderCommands(t, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to render commands: %w", err)
	}

	for _, cmd := range cmds {
		if err := dev.Supports(cmd); err != nil {
			return nil, err
		}
	}

	return &Unit{
		Device:   dev,
		Test:     t,
		Inputs:   inputs,
		Commands: cmds,
		Result:   res,
		logger:   logger.With(zap.String("device", dev.Name()), zap.String("check", t.Name)),
	}, nil
}

// Run collects the unit's commands and evaluates them. It never panics and
// always leaves the result with a terminal status.
func (u *Unit) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("Panic recovered in check",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			u.Result.Error(fmt.Sprintf("check raised an unexpected error: %v", r))
		}
	}()

	if model := u.Device.HWModel(); model != "" && u.skippedOn(model) {
		u.Result.Skipped(fmt.Sprintf("%s check is not supported on %s", u.Test.Name, model))
		return
	}

	u.collect(ctx)

	if !u.Test.HandlesErrors {
		if failed := failedCommands(u.Commands); len(failed) > 0 {
			u.recordCollectionFailure(failed)
			return
		}
	}

	u.Test.Evaluate(&Evaluation{
		Device:   u.Device,
		Inputs:   u.Inputs,
		Commands: u.Commands,
		Result:   u.Result,
	})

	if u.Result.IsUnset() {
		u.Result.Error("check completed without recording a verdict")
	}
}

func (u *Unit) skippedOn(model string) bool {
	for _, p := range u.Test.SkipOnPlatforms {
		if p == model {
			return true
		}
	}
	return false
}

// collect fills every command through the device cache concurrently
func (u *Unit) collect(ctx context.Context) {
	var wg conc.WaitGroup
	for _, cmd := range u.Commands {
		if cmd.Collected() {
			continue
		}
		wg.Go(func() {
			u.Device.GetOrCollect(ctx, cmd)
		})
	}
	wg.Wait()
}

func failedCommands(cmds []*device.Command) []*device.Command {
	var out []*device.Command
	for _, c := range cmds {
		if c.Failed() {
			out = append(out, c)
		}
	}
	return out
}

// recordCollectionFailure skips when every failure is a platform limitation,
// otherwise marks the result as error with the command errors
func (u *Unit) recordCollectionFailure(failed []*device.Command) {
	unsupported := true
	var msgs []string
	for _, c := range failed {
		if !c.Unsupported() {
			unsupported = false
		}
		msgs = append(msgs, fmt.Sprintf("command %q failed: %s", c.Line(), strings.Join(c.Errors(), "; ")))
	}

	if unsupported {
		u.Result.Skipped(fmt.Sprintf("%s is not supported on this platform: %s", u.Test.Name, strings.Join(msgs, " | ")))
		return
	}
	for _, m := range msgs {
		u.Result.Error(m)
	}
}
