package catalog

import (
	"fmt"
	"os"

	"github.com/stone-age-io/fleetcheck/internal/check"
	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog layout
type File struct {
	Checks []Entry `yaml:"checks"`
}

// Entry is one configured check
type Entry struct {
	Check  string         `yaml:"check"`
	Tags   []string       `yaml:"tags,omitempty"`
	Inputs map[string]any `yaml:"inputs,omitempty"`
}

// Load reads a catalog file and resolves every entry against the registry
func Load(path string, registry *check.Registry) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := Parse(data, registry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes catalog YAML. Unknown checks and invalid inputs are rejected
// here so a bad catalog fails before any device is contacted.
func Parse(data []byte, registry *check.Registry) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	defs := make([]*Definition, 0, len(f.Checks))
	for i, e := range f.Checks {
		if e.Check == "" {
			return nil, fmt.Errorf("catalog entry %d: check name is required", i)
		}
		t, ok := registry.Get(e.Check)
		if !ok {
			return nil, fmt.Errorf("catalog entry %d: %w: %s", i, ErrUnknownCheck, e.Check)
		}
		if _, err := check.DecodeInputs(t, e.Inputs); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		defs = append(defs, &Definition{Name: t.Name, Test: t, Inputs: e.Inputs, Tags: e.Tags})
	}

	return New(defs...), nil
}
