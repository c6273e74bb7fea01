// Package inventory holds the ordered set of devices a run may target.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"github.com/stone-age-io/fleetcheck/internal/device"
)

// Inventory is an ordered set of uniquely named devices
type Inventory struct {
	devices []*device.Device
	byName  map[string]*device.Device
}

// New creates an inventory. Device names must be unique.
func New(devices ...*device.Device) (*Inventory, error) {
	inv := &Inventory{
		devices: make([]*device.Device, 0, len(devices)),
		byName:  make(map[string]*device.Device, len(devices)),
	}
	for _, d := range devices {
		if err := inv.add(d); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

func (inv *Inventory) add(d *device.Device) error {
	if d.Name() == "" {
		return errors.New("device name is required")
	}
	if _, exists := inv.byName[d.Name()]; exists {
		return fmt.Errorf("duplicate device name: %s", d.Name())
	}
	inv.devices = append(inv.devices, d)
	inv.byName[d.Name()] = d
	return nil
}

// Devices returns the devices in inventory order
func (inv *Inventory) Devices() []*device.Device {
	return append([]*device.Device(nil), inv.devices...)
}

// Len returns the number of devices
func (inv *Inventory) Len() int {
	return len(inv.devices)
}

// Get looks up a device by name
func (inv *Inventory) Get(name string) (*device.Device, bool) {
	d, ok := inv.byName[name]
	return d, ok
}

// Filter returns the devices matching any of names (when given) and carrying
// at least one of tags (when given)
func (inv *Inventory) Filter(names, tags []string) *Inventory {
	return inv.subset(func(d *device.Device) bool {
		if len(names) > 0 && !containsString(names, d.Name()) {
			return false
		}
		if len(tags) > 0 {
			for _, t := range tags {
				if d.HasTag(t) {
					return true
				}
			}
			return false
		}
		return true
	})
}

// Established returns the devices currently in established state
func (inv *Inventory) Established() *Inventory {
	return inv.subset(func(d *device.Device) bool { return d.Established() })
}

func (inv *Inventory) subset(keep func(*device.Device) bool) *Inventory {
	out := &Inventory{byName: make(map[string]*device.Device)}
	for _, d := range inv.devices {
		if keep(d) {
			out.devices = append(out.devices, d)
			out.byName[d.Name()] = d
		}
	}
	return out
}

// Connect refreshes every device concurrently, at most limit at a time
func (inv *Inventory) Connect(ctx context.Context, limit int) {
	if limit < 1 {
		limit = 1
	}
	p := pool.New().WithMaxGoroutines(limit)
	for _, d := range inv.devices {
		p.Go(func() {
			d.Refresh(ctx)
		})
	}
	p.Wait()
}

// Close releases transport resources of every device
func (inv *Inventory) Close() error {
	var errs []error
	for _, d := range inv.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
