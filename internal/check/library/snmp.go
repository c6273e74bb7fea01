package library

import (
	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/tidwall/gjson"
)

// SnmpInputs configures VerifySnmpStatus
type SnmpInputs struct {
	VRF string `yaml:"vrf"`
}

// VerifySnmpStatus checks the SNMP agent is enabled in a VRF
func VerifySnmpStatus() *check.Test {
	return &check.Test{
		Name:        "VerifySnmpStatus",
		Description: "Verifies if the SNMP agent is enabled",
		Categories:  []string{"snmp"},
		Commands:    []device.Template{{Text: "show snmp"}},
		Inputs:      func() any { return &SnmpInputs{VRF: "default"} },
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[SnmpInputs](e)
			out := e.Commands[0].JSON()

			vrfs := stringsOf(out.Get("vrfs.snmpVrfs").Array())
			if out.Get("enabled").Bool() && contains(vrfs, in.VRF) {
				e.Result.Success()
				return
			}
			e.Result.Failuref("SNMP agent disabled in vrf %s", in.VRF)
		},
	}
}

func stringsOf(values []gjson.Result) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.String())
	}
	return out
}
