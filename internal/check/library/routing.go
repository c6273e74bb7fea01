package library

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/tidwall/gjson"
)

// RouteInputs configures VerifyRoutingTableEntry
type RouteInputs struct {
	VRF    string   `yaml:"vrf"`
	Routes []string `yaml:"routes"`
}

// Validate implements check.Validator
func (i *RouteInputs) Validate() error {
	if len(i.Routes) == 0 {
		return errors.New("routes must not be empty")
	}
	for _, r := range i.Routes {
		if _, err := netip.ParseAddr(r); err != nil {
			return fmt.Errorf("invalid route address %q: %w", r, err)
		}
	}
	return nil
}

// VerifyRoutingTableEntry checks each route is present in the VRF routing table.
// One command is issued per route.
func VerifyRoutingTableEntry() *check.Test {
	return &check.Test{
		Name:        "VerifyRoutingTableEntry",
		Description: "Verifies that the provided routes are present in the routing table of a specified VRF",
		Categories:  []string{"routing"},
		Commands:    []device.Template{{Text: "show ip route vrf {vrf} {route}"}},
		Inputs:      func() any { return &RouteInputs{VRF: "default"} },
		Render: func(tpl device.Template, inputs any) []map[string]string {
			in := inputs.(*RouteInputs)
			sets := make([]map[string]string, 0, len(in.Routes))
			for _, r := range in.Routes {
				sets = append(sets, map[string]string{"vrf": in.VRF, "route": r})
			}
			return sets
		},
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[RouteInputs](e)

			var missing []string
			for _, cmd := range e.Commands {
				route := cmd.Param("route")
				routes := cmd.Lookup("vrfs." + device.EscapeKey(in.VRF) + ".routes")
				if !hasRoute(routes, route) {
					missing = append(missing, route)
				}
			}
			if len(missing) > 0 {
				e.Result.Failuref("The following route(s) are missing from the routing table of VRF %s: %s",
					in.VRF, bracketList(missing))
				return
			}
			e.Result.Success()
		},
	}
}

// hasRoute reports whether a prefix keyed routes object holds the address
func hasRoute(routes gjson.Result, addr string) bool {
	found := false
	routes.ForEach(func(key, _ gjson.Result) bool {
		prefix, _, _ := strings.Cut(key.String(), "/")
		if prefix == addr {
			found = true
			return false
		}
		return true
	})
	return found
}
