package library

import (
	"errors"

	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/tidwall/gjson"
)

var ospfNeighborCommand = device.Template{Text: "show ip ospf neighbor", Revision: 1}

type ospfNeighbor struct {
	vrf      string
	instance string
	routerID string
	state    string
}

// ospfNeighbors flattens vrfs.*.instList.*.ospfNeighborEntries. configured is
// false when OSPF is absent from the output.
func ospfNeighbors(out gjson.Result) (neighbors []ospfNeighbor, configured bool) {
	vrfs := out.Get("vrfs")
	if !vrfs.Exists() || len(vrfs.Map()) == 0 {
		return nil, false
	}

	vrfs.ForEach(func(vrf, vrfData gjson.Result) bool {
		vrfData.Get("instList").ForEach(func(inst, instData gjson.Result) bool {
			for _, n := range instData.Get("ospfNeighborEntries").Array() {
				neighbors = append(neighbors, ospfNeighbor{
					vrf:      vrf.String(),
					instance: inst.String(),
					routerID: n.Get("routerId").String(),
					state:    n.Get("adjacencyState").String(),
				})
			}
			return true
		})
		return true
	})
	return neighbors, true
}

// VerifyOSPFNeighborState checks every OSPF neighbor is in full state
func VerifyOSPFNeighborState() *check.Test {
	return &check.Test{
		Name:        "VerifyOSPFNeighborState",
		Description: "Verifies all OSPF neighbors are in FULL state",
		Categories:  []string{"ospf"},
		Commands:    []device.Template{ospfNeighborCommand},
		Evaluate: func(e *check.Evaluation) {
			neighbors, configured := ospfNeighbors(e.Commands[0].JSON())
			if !configured {
				e.Result.Skipped("OSPF not configured")
				return
			}
			if len(neighbors) == 0 {
				e.Result.Skipped("No OSPF neighbor detected")
				return
			}
			for _, n := range neighbors {
				if n.state != "full" {
					e.Result.Failuref("Instance: %s VRF: %s Neighbor ID: %s - Incorrect adjacency state - Expected: Full Actual: %s",
						n.instance, n.vrf, n.routerID, n.state)
				}
			}
			e.Result.Success()
		},
	}
}

// NeighborCountInputs configures VerifyOSPFNeighborCount
type NeighborCountInputs struct {
	Number int `yaml:"number"`
}

// Validate implements check.Validator
func (i *NeighborCountInputs) Validate() error {
	if i.Number < 0 {
		return errors.New("number must not be negative")
	}
	return nil
}

// VerifyOSPFNeighborCount checks the number of full OSPF neighbors
func VerifyOSPFNeighborCount() *check.Test {
	return &check.Test{
		Name:        "VerifyOSPFNeighborCount",
		Description: "Verifies the number of OSPF neighbors in FULL state",
		Categories:  []string{"ospf"},
		Commands:    []device.Template{ospfNeighborCommand},
		Inputs:      func() any { return &NeighborCountInputs{} },
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[NeighborCountInputs](e)
			neighbors, configured := ospfNeighbors(e.Commands[0].JSON())
			if !configured {
				e.Result.Skipped("OSPF not configured")
				return
			}
			if len(neighbors) == 0 {
				e.Result.Skipped("No OSPF neighbor detected")
				return
			}

			full := 0
			for _, n := range neighbors {
				if n.state == "full" {
					full++
				}
			}
			if full != in.Number {
				e.Result.Failuref("Neighbor count mismatch - Expected: %d Actual: %d", in.Number, full)
				return
			}
			e.Result.Success()
		},
	}
}
