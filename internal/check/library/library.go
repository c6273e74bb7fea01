// Package library holds the built-in checks.
package library

import (
	"fmt"
	"strings"

	"github.com/stone-age-io/fleetcheck/internal/check"
)

// virtualPlatforms are hardware models without physical sensors
var virtualPlatforms = []string{"cEOSLab", "vEOS-lab", "cEOSCloudLab", "vEOS"}

// All returns a fresh copy of every built-in check
func All() []*check.Test {
	return []*check.Test{
		VerifyUptime(),
		VerifyEOSVersion(),
		VerifyTemperature(),
		VerifyOSPFNeighborState(),
		VerifyOSPFNeighborCount(),
		VerifySSHStatus(),
		VerifySSHIPv4Acl(),
		VerifyRoutingTableEntry(),
		VerifyLLDPNeighbors(),
		VerifyInterfacesStatus(),
		VerifySnmpStatus(),
	}
}

// Register adds the built-in checks to a registry
func Register(r *check.Registry) error {
	if err := r.Register(All()...); err != nil {
		return fmt.Errorf("failed to register built-in checks: %w", err)
	}
	return nil
}

// NewRegistry returns a registry preloaded with the built-in checks
func NewRegistry() *check.Registry {
	r := check.NewRegistry()
	r.MustRegister(All()...)
	return r
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func bracketList(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}
