package library

import (
	"context"
	"fmt"
	"testing"

	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device/devicetest"
	"github.com/stone-age-io/fleetcheck/internal/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const ospfOutput = `{"vrfs": {"default": {"instList": {"666": {"ospfNeighborEntries": [
	{"routerId": "7.7.7.7", "adjacencyState": "full"},
	{"routerId": "9.9.9.9", "adjacencyState": "full"}
]}, "777": {"ospfNeighborEntries": [
	{"routerId": "8.8.8.8", "adjacencyState": "2Ways"}
]}}}}}`

const lldpOutput = `{"lldpNeighbors": {
	"Ethernet1": {"lldpNeighborInfo": [{"systemName": "spine1", "neighborInterfaceInfo": {"interfaceId_v2": "Ethernet1"}}]},
	"Ethernet2": {"lldpNeighborInfo": []}
}}`

const interfacesOutput = `{"interfaceDescriptions": {
	"Ethernet1": {"interfaceStatus": "up", "lineProtocolStatus": "up", "description": "to spine1"},
	"Ethernet2": {"interfaceStatus": "adminDown", "lineProtocolStatus": "down", "description": ""}
}}`

func TestLibrary(t *testing.T) {
	tests := []struct {
		name       string
		test       *check.Test
		outputs    map[string]string
		model      string
		inputs     map[string]any
		wantStatus result.Status
		wantMsgs   []string
	}{
		{
			name:       "uptime success",
			test:       VerifyUptime(),
			outputs:    map[string]string{"show uptime": `{"upTime": 1186689.15}`},
			inputs:     map[string]any{"minimum": 666},
			wantStatus: result.StatusSuccess,
		},
		{
			name:       "uptime failure",
			test:       VerifyUptime(),
			outputs:    map[string]string{"show uptime": `{"upTime": 665.15}`},
			inputs:     map[string]any{"minimum": 666},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"Device uptime is incorrect - Expected: 666s Actual: 665.15s"},
		},
		{
			name:       "version success",
			test:       VerifyEOSVersion(),
			outputs:    map[string]string{"show version": `{"version": "4.31.1F"}`},
			inputs:     map[string]any{"versions": []any{"4.30.2F", "4.31.1F"}},
			wantStatus: result.StatusSuccess,
		},
		{
			name:       "version failure",
			test:       VerifyEOSVersion(),
			outputs:    map[string]string{"show version": `{"version": "4.27.0F"}`},
			inputs:     map[string]any{"versions": []any{"4.31.1F"}},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"EOS version mismatch - Actual: 4.27.0F not in Expected: [4.31.1F]"},
		},
		{
			name:       "temperature success",
			test:       VerifyTemperature(),
			outputs:    map[string]string{"show system environment temperature": `{"systemStatus": "temperatureOk"}`},
			model:      "DCS-7280SR3-48YC8",
			wantStatus: result.StatusSuccess,
		},
		{
			name:       "temperature skipped on virtual platform",
			test:       VerifyTemperature(),
			model:      "cEOSLab",
			wantStatus: result.StatusSkipped,
		},
		{
			name:       "temperature failure",
			test:       VerifyTemperature(),
			outputs:    map[string]string{"show system environment temperature": `{"systemStatus": "temperatureKO"}`},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"Device temperature exceeds acceptable limits - Expected: temperatureOk Actual: temperatureKO"},
		},
		{
			name:       "ospf state failure",
			test:       VerifyOSPFNeighborState(),
			outputs:    map[string]string{"show ip ospf neighbor": ospfOutput},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"Instance: 777 VRF: default Neighbor ID: 8.8.8.8 - Incorrect adjacency state - Expected: Full Actual: 2Ways"},
		},
		{
			name:       "ospf state not configured",
			test:       VerifyOSPFNeighborState(),
			outputs:    map[string]string{"show ip ospf neighbor": `{"vrfs": {}}`},
			wantStatus: result.StatusSkipped,
			wantMsgs:   []string{"OSPF not configured"},
		},
		{
			name:       "ospf count success",
			test:       VerifyOSPFNeighborCount(),
			outputs:    map[string]string{"show ip ospf neighbor": ospfOutput},
			inputs:     map[string]any{"number": 2},
			wantStatus: result.StatusSuccess,
		},
		{
			name:       "ospf count no neighbor",
			test:       VerifyOSPFNeighborCount(),
			outputs:    map[string]string{"show ip ospf neighbor": `{"vrfs": {"default": {"instList": {"1": {"ospfNeighborEntries": []}}}}}`},
			inputs:     map[string]any{"number": 2},
			wantStatus: result.StatusSkipped,
			wantMsgs:   []string{"No OSPF neighbor detected"},
		},
		{
			name:       "ssh status success",
			test:       VerifySSHStatus(),
			outputs:    map[string]string{"show management ssh": "SSHD status for Default VRF is disabled\n\nSSH connection limit is 50\n"},
			wantStatus: result.StatusSuccess,
		},
		{
			name:       "ssh status enabled",
			test:       VerifySSHStatus(),
			outputs:    map[string]string{"show management ssh": "SSHD status for Default VRF is enabled\n"},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"SSHD status for Default VRF is enabled"},
		},
		{
			name:       "ssh status missing",
			test:       VerifySSHStatus(),
			outputs:    map[string]string{"show management ssh": "SSH connection limit is 50\n"},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"Could not find SSH status in returned output"},
		},
		{
			name: "ssh acl not active",
			test: VerifySSHIPv4Acl(),
			outputs: map[string]string{"show management ssh ip access-list summary": `{"ipAclList": {"aclList": [
				{"name": "ACL_SSH", "configuredVrfs": ["MGMT"], "activeVrfs": []}
			]}}`},
			inputs:     map[string]any{"number": 1, "vrf": "MGMT"},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"VRF: MGMT - Following SSH IPv4 ACL(s) not configured or active: ACL_SSH"},
		},
		{
			name:       "ssh acl count mismatch",
			test:       VerifySSHIPv4Acl(),
			outputs:    map[string]string{"show management ssh ip access-list summary": `{"ipAclList": {"aclList": []}}`},
			inputs:     map[string]any{"number": 1},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"VRF: default - SSH IPv4 ACL(s) count mismatch - Expected: 1 Actual: 0"},
		},
		{
			name: "route missing",
			test: VerifyRoutingTableEntry(),
			outputs: map[string]string{
				"show ip route vrf default 10.1.0.1": `{"vrfs": {"default": {"routes": {"10.1.0.1/32": {"routeType": "eBGP"}}}}}`,
				"show ip route vrf default 10.1.0.2": `{"vrfs": {"default": {"routes": {}}}}`,
			},
			inputs:     map[string]any{"routes": []any{"10.1.0.1", "10.1.0.2"}},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"The following route(s) are missing from the routing table of VRF default: [10.1.0.2]"},
		},
		{
			name:       "lldp",
			test:       VerifyLLDPNeighbors(),
			outputs:    map[string]string{"show lldp neighbors detail": lldpOutput},
			inputs: map[string]any{"neighbors": []any{
				map[string]any{"port": "Ethernet1", "neighbor_device": "spine1", "neighbor_port": "Ethernet1"},
				map[string]any{"port": "Ethernet2", "neighbor_device": "spine2", "neighbor_port": "Ethernet1"},
				map[string]any{"port": "Ethernet3", "neighbor_device": "spine3", "neighbor_port": "Ethernet1"},
			}},
			wantStatus: result.StatusFailure,
			wantMsgs: []string{
				"Port: Ethernet2 Neighbor: spine2 Neighbor Port: Ethernet1 - No LLDP neighbors",
				"Port: Ethernet3 Neighbor: spine3 Neighbor Port: Ethernet1 - Port not found",
			},
		},
		{
			name:    "interfaces success",
			test:    VerifyInterfacesStatus(),
			outputs: map[string]string{"show interfaces description": interfacesOutput},
			inputs: map[string]any{"interfaces": []any{
				map[string]any{"name": "Ethernet1", "status": "up", "line_protocol_status": "up"},
				map[string]any{"name": "Ethernet2", "status": "adminDown"},
			}},
			wantStatus: result.StatusSuccess,
		},
		{
			name:    "interfaces mismatch",
			test:    VerifyInterfacesStatus(),
			outputs: map[string]string{"show interfaces description": interfacesOutput},
			inputs: map[string]any{"interfaces": []any{
				map[string]any{"name": "Ethernet2", "status": "up"},
			}},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"Interface: Ethernet2 - Status mismatch - Expected: up Actual: adminDown"},
		},
		{
			name:       "snmp success",
			test:       VerifySnmpStatus(),
			outputs:    map[string]string{"show snmp": `{"vrfs": {"snmpVrfs": ["MGMT", "default"]}, "enabled": true}`},
			inputs:     map[string]any{"vrf": "MGMT"},
			wantStatus: result.StatusSuccess,
		},
		{
			name:       "snmp disabled",
			test:       VerifySnmpStatus(),
			outputs:    map[string]string{"show snmp": `{"vrfs": {"snmpVrfs": ["default"]}, "enabled": false}`},
			wantStatus: result.StatusFailure,
			wantMsgs:   []string{"SNMP agent disabled in vrf default"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &devicetest.Transport{Outputs: tt.outputs, Model: tt.model}
			dev := devicetest.NewDevice("leaf1", nil, tr)
			dev.Refresh(context.Background())

			res := result.New(dev.Name(), tt.test.Name, tt.test.Categories, tt.test.Description)
			u, err := check.NewUnit(dev, tt.test, tt.inputs, res, zap.NewNop())
			require.NoError(t, err)
			u.Run(context.Background())

			assert.Equal(t, tt.wantStatus, res.Status(), fmt.Sprint(res.Messages()))
			if tt.wantMsgs != nil {
				assert.Equal(t, tt.wantMsgs, res.Messages())
			}
		})
	}
}

// TestInputValidation tests inputs rejected at construction time
func TestInputValidation(t *testing.T) {
	tests := []struct {
		name   string
		test   *check.Test
		inputs map[string]any
	}{
		{name: "uptime missing minimum", test: VerifyUptime(), inputs: map[string]any{}},
		{name: "version empty", test: VerifyEOSVersion(), inputs: map[string]any{"versions": []any{}}},
		{name: "acl zero", test: VerifySSHIPv4Acl(), inputs: map[string]any{"number": 0}},
		{name: "bad route", test: VerifyRoutingTableEntry(), inputs: map[string]any{"routes": []any{"not-an-ip"}}},
		{name: "bad interface status", test: VerifyInterfacesStatus(), inputs: map[string]any{
			"interfaces": []any{map[string]any{"name": "Ethernet1", "status": "sideways"}},
		}},
		{name: "unknown key", test: VerifySnmpStatus(), inputs: map[string]any{"vfr": "MGMT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := check.DecodeInputs(tt.test, tt.inputs)
			assert.ErrorIs(t, err, check.ErrInvalidInputs)
		})
	}
}

// TestRegistry tests that every built-in registers cleanly
func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, len(All()), r.Len())
	_, ok := r.Get("VerifyRoutingTableEntry")
	assert.True(t, ok)

	assert.Error(t, Register(r))
}
