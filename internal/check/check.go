// Package check is the harness that binds check logic to a device: it decodes
// inputs, renders commands, collects them through the device cache and
// records a verdict.
package check

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/stone-age-io/fleetcheck/internal/result"
)

// ErrInvalidInputs wraps input decoding and validation failures
var ErrInvalidInputs = errors.New("invalid check inputs")

// Test describes one kind of check
type Test struct {
	Name        string
	Description string
	Categories  []string

	// Commands the check needs. Parameterized templates are expanded by Render.
	Commands []device.Template

	// Inputs returns a pointer to a zero inputs value. Nil means the check
	// takes no inputs.
	Inputs func() any

	// Render returns one parameter set per command to issue for a
	// parameterized template. Nil renders each template once without params.
	Render func(tpl device.Template, inputs any) []map[string]string

	// Evaluate inspects the collected commands and records a verdict
	Evaluate func(e *Evaluation)

	// SkipOnPlatforms lists hardware models the check does not apply to
	SkipOnPlatforms []string

	// HandlesErrors lets Evaluate see failed commands instead of the
	// harness marking the result as error
	HandlesErrors bool

	// Custom marks checks that are not part of the built-in library
	Custom bool
}

// Validator is implemented by inputs that check their own consistency
type Validator interface {
	Validate() error
}

// Evaluation is what check logic sees
type Evaluation struct {
	Device   *device.Device
	Inputs   any
	Commands []*device.Command
	Result   *result.Result
}

// InputsOf returns typed inputs
func InputsOf[T any](e *Evaluation) *T {
	in, _ := e.Inputs.(*T)
	return in
}

// Command returns the first collected command rendered from the template
// with the given text, or nil
func (e *Evaluation) Command(text string) *device.Command {
	for _, c := range e.Commands {
		if c.Template().Text == text {
			return c
		}
	}
	return nil
}

// DecodeInputs decodes raw catalog inputs into the test's inputs type.
// Unknown keys are rejected.
func DecodeInputs(t *Test, raw map[string]any) (any, error) {
	if t.Inputs == nil {
		if len(raw) > 0 {
			return nil, fmt.Errorf("%w: %s takes no inputs", ErrInvalidInputs, t.Name)
		}
		return nil, nil
	}

	inputs := t.Inputs()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInputs, t.Name, err)
	}

	if v, ok := inputs.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInputs, t.Name, err)
		}
	}
	return inputs, nil
}

// RenderCommands expands the test's templates for the given inputs
func RenderCommands(t *Test, inputs any) ([]*device.Command, error) {
	var cmds []*device.Command
	for _, tpl := range t.Commands {
		sets := []map[string]string{nil}
		if t.Render != nil && len(tpl.Params()) > 0 {
			sets = t.Render(tpl, inputs)
		}
		for _, params := range sets {
			cmd, err := tpl.Render(params)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		}
	}
	return cmds, nil
}

// validate checks that a test is well formed before registration
func (t *Test) validate() error {
	if t.Name == "" {
		return errors.New("check name is required")
	}
	if t.Evaluate == nil {
		return fmt.Errorf("check %s has no Evaluate function", t.Name)
	}
	for _, tpl := range t.Commands {
		if tpl.Text == "" {
			return fmt.Errorf("check %s declares an empty command", t.Name)
		}
		if len(tpl.Params()) > 0 && t.Render == nil {
			return fmt.Errorf("check %s has parameterized command %q but no Render function", t.Name, tpl.Text)
		}
	}
	return nil
}
