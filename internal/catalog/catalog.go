// Package catalog holds the configured checks and the tag index used to
// select them per device.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stone-age-io/fleetcheck/internal/check"
)

// NoTag is the reserved index bucket for checks without tags
const NoTag = ""

// ErrUnknownCheck is returned when a requested check name is not in the catalog
var ErrUnknownCheck = errors.New("unknown check")

// Definition binds a check to its inputs and tags
type Definition struct {
	Name   string
	Test   *check.Test
	Inputs map[string]any
	Tags   []string
}

// HasTags reports whether the definition carries at least one tag
func (d *Definition) HasTags() bool {
	return len(d.Tags) > 0
}

// Catalog is an ordered list of definitions with a tag index
type Catalog struct {
	definitions []*Definition

	mu    sync.RWMutex
	index map[string][]*Definition
}

// New creates a catalog. Tags are deduplicated and sorted per definition.
func New(defs ...*Definition) *Catalog {
	c := &Catalog{definitions: make([]*Definition, 0, len(defs))}
	for _, d := range defs {
		c.definitions = append(c.definitions, normalize(d))
	}
	return c
}

func normalize(d *Definition) *Definition {
	seen := make(map[string]bool, len(d.Tags))
	tags := make([]string, 0, len(d.Tags))
	for _, t := range d.Tags {
		if t != NoTag && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)

	name := d.Name
	if name == "" && d.Test != nil {
		name = d.Test.Name
	}
	return &Definition{Name: name, Test: d.Test, Inputs: d.Inputs, Tags: tags}
}

// BuildIndexes partitions the definitions by tag. When names are given only
// those checks are indexed and every name must exist. Rebuilding replaces the
// previous index.
func (c *Catalog) BuildIndexes(names ...string) error {
	selected := c.definitions
	if len(names) > 0 {
		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}

		present := make(map[string]bool)
		selected = nil
		for _, d := range c.definitions {
			if wanted[d.Name] {
				selected = append(selected, d)
				present[d.Name] = true
			}
		}

		var missing []string
		for n := range wanted {
			if !present[n] {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("%w: %s", ErrUnknownCheck, strings.Join(missing, ", "))
		}
	}

	index := make(map[string][]*Definition)
	for _, d := range selected {
		if !d.HasTags() {
			index[NoTag] = append(index[NoTag], d)
			continue
		}
		for _, t := range d.Tags {
			index[t] = append(index[t], d)
		}
	}

	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
	return nil
}

// ChecksForTags returns the union of the index buckets for tags, in catalog
// order and without duplicates
func (c *Catalog) ChecksForTags(tags ...string) []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hit := make(map[*Definition]bool)
	for _, t := range tags {
		if t == NoTag {
			continue
		}
		for _, d := range c.index[t] {
			hit[d] = true
		}
	}
	return c.ordered(hit)
}

// ChecksWithNoTag returns the untagged definitions in catalog order
func (c *Catalog) ChecksWithNoTag() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Definition(nil), c.index[NoTag]...)
}

func (c *Catalog) ordered(set map[*Definition]bool) []*Definition {
	out := make([]*Definition, 0, len(set))
	for _, d := range c.definitions {
		if set[d] {
			out = append(out, d)
		}
	}
	return out
}

// Definitions returns every definition in catalog order
func (c *Catalog) Definitions() []*Definition {
	return append([]*Definition(nil), c.definitions...)
}

// Names returns the distinct check names in catalog order
func (c *Catalog) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range c.definitions {
		if !seen[d.Name] {
			seen[d.Name] = true
			names = append(names, d.Name)
		}
	}
	return names
}

// Len returns the number of definitions
func (c *Catalog) Len() int {
	return len(c.definitions)
}
