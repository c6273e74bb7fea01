package library

import (
	"errors"
	"strings"

	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device"
)

// VerifySSHStatus checks the SSH daemon is disabled in the default VRF
func VerifySSHStatus() *check.Test {
	return &check.Test{
		Name:        "VerifySSHStatus",
		Description: "Verifies the SSHD agent is disabled in the default VRF",
		Categories:  []string{"security"},
		Commands:    []device.Template{{Text: "show management ssh", Format: device.FormatText}},
		Evaluate: func(e *check.Evaluation) {
			var status string
			for _, line := range strings.Split(e.Commands[0].Text(), "\n") {
				if strings.HasPrefix(line, "SSHD status") {
					status = strings.TrimSpace(line)
					break
				}
			}
			if status == "" {
				e.Result.Failure("Could not find SSH status in returned output")
				return
			}

			fields := strings.Fields(status)
			if fields[len(fields)-1] == "disabled" {
				e.Result.Success()
				return
			}
			e.Result.Failure(status)
		},
	}
}

// ACLInputs configures ACL count checks
type ACLInputs struct {
	Number int    `yaml:"number"`
	VRF    string `yaml:"vrf"`
}

// Validate implements check.Validator
func (i *ACLInputs) Validate() error {
	if i.Number <= 0 {
		return errors.New("number must be a positive integer")
	}
	if i.VRF == "" {
		return errors.New("vrf must not be empty")
	}
	return nil
}

// VerifySSHIPv4Acl checks the SSH daemon has the expected IPv4 ACLs in a VRF
func VerifySSHIPv4Acl() *check.Test {
	return &check.Test{
		Name:        "VerifySSHIPv4Acl",
		Description: "Verifies the SSHD agent has IPv4 ACL(s) configured",
		Categories:  []string{"security"},
		Commands:    []device.Template{{Text: "show management ssh ip access-list summary", Revision: 1}},
		Inputs:      func() any { return &ACLInputs{VRF: "default"} },
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[ACLInputs](e)
			acls := e.Commands[0].Lookup("ipAclList.aclList").Array()
			if len(acls) != in.Number {
				e.Result.Failuref("VRF: %s - SSH IPv4 ACL(s) count mismatch - Expected: %d Actual: %d", in.VRF, in.Number, len(acls))
				return
			}

			var inactive []string
			for _, acl := range acls {
				configured := stringsOf(acl.Get("configuredVrfs").Array())
				active := stringsOf(acl.Get("activeVrfs").Array())
				if !contains(configured, in.VRF) || !contains(active, in.VRF) {
					inactive = append(inactive, acl.Get("name").String())
				}
			}
			if len(inactive) > 0 {
				e.Result.Failuref("VRF: %s - Following SSH IPv4 ACL(s) not configured or active: %s", in.VRF, strings.Join(inactive, ", "))
				return
			}
			e.Result.Success()
		},
	}
}
