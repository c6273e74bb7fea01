package library

import (
	"errors"

	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/stone-age-io/fleetcheck/internal/utils"
)

// UptimeInputs configures VerifyUptime
type UptimeInputs struct {
	Minimum float64 `yaml:"minimum"`
}

// Validate implements check.Validator
func (i *UptimeInputs) Validate() error {
	if i.Minimum <= 0 {
		return errors.New("minimum must be greater than zero")
	}
	return nil
}

// VerifyUptime fails when the device has been up for less than the minimum seconds
func VerifyUptime() *check.Test {
	return &check.Test{
		Name:        "VerifyUptime",
		Description: "Verifies the device uptime is above a minimum",
		Categories:  []string{"system"},
		Commands:    []device.Template{{Text: "show uptime", Revision: 1}},
		Inputs:      func() any { return &UptimeInputs{} },
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[UptimeInputs](e)
			uptime := e.Commands[0].Lookup("upTime").Float()
			if uptime > in.Minimum {
				e.Result.Success()
				return
			}
			e.Result.Failuref("Device uptime is incorrect - Expected: %vs Actual: %vs",
				in.Minimum, utils.Round(uptime))
		},
	}
}

// VersionInputs configures VerifyEOSVersion
type VersionInputs struct {
	Versions []string `yaml:"versions"`
}

// Validate implements check.Validator
func (i *VersionInputs) Validate() error {
	if len(i.Versions) == 0 {
		return errors.New("versions must not be empty")
	}
	return nil
}

// VerifyEOSVersion checks the running software version is one of the allowed versions
func VerifyEOSVersion() *check.Test {
	return &check.Test{
		Name:        "VerifyEOSVersion",
		Description: "Verifies the device is running one of the allowed software versions",
		Categories:  []string{"software"},
		Commands:    []device.Template{{Text: "show version"}},
		Inputs:      func() any { return &VersionInputs{} },
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[VersionInputs](e)
			version := e.Commands[0].Lookup("version").String()
			if contains(in.Versions, version) {
				e.Result.Success()
				return
			}
			e.Result.Failuref("EOS version mismatch - Actual: %s not in Expected: %s", version, bracketList(in.Versions))
		},
	}
}

// VerifyTemperature checks the system temperature status is ok
func VerifyTemperature() *check.Test {
	return &check.Test{
		Name:            "VerifyTemperature",
		Description:     "Verifies the device temperature is within acceptable limits",
		Categories:      []string{"hardware"},
		Commands:        []device.Template{{Text: "show system environment temperature", Revision: 1}},
		SkipOnPlatforms: virtualPlatforms,
		Evaluate: func(e *check.Evaluation) {
			status := e.Commands[0].Lookup("systemStatus").String()
			if status == "temperatureOk" {
				e.Result.Success()
				return
			}
			e.Result.Failuref("Device temperature exceeds acceptable limits - Expected: temperatureOk Actual: %s", status)
		},
	}
}
