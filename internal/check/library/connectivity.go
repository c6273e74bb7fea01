package library

import (
	"errors"
	"fmt"

	"github.com/stone-age-io/fleetcheck/internal/check"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/tidwall/gjson"
)

// LLDPNeighbor is one expected LLDP adjacency
type LLDPNeighbor struct {
	Port           string `yaml:"port"`
	NeighborDevice string `yaml:"neighbor_device"`
	NeighborPort   string `yaml:"neighbor_port"`
}

// LLDPInputs configures VerifyLLDPNeighbors
type LLDPInputs struct {
	Neighbors []LLDPNeighbor `yaml:"neighbors"`
}

// Validate implements check.Validator
func (i *LLDPInputs) Validate() error {
	if len(i.Neighbors) == 0 {
		return errors.New("neighbors must not be empty")
	}
	for _, n := range i.Neighbors {
		if n.Port == "" || n.NeighborDevice == "" || n.NeighborPort == "" {
			return fmt.Errorf("neighbor entry %+v requires port, neighbor_device and neighbor_port", n)
		}
	}
	return nil
}

// VerifyLLDPNeighbors checks the expected LLDP neighbors are seen on each port
func VerifyLLDPNeighbors() *check.Test {
	return &check.Test{
		Name:        "VerifyLLDPNeighbors",
		Description: "Verifies the connection status of the specified LLDP neighbors",
		Categories:  []string{"connectivity"},
		Commands:    []device.Template{{Text: "show lldp neighbors detail"}},
		Inputs:      func() any { return &LLDPInputs{} },
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[LLDPInputs](e)
			out := e.Commands[0].JSON()

			for _, n := range in.Neighbors {
				port := out.Get("lldpNeighbors." + device.EscapeKey(n.Port))
				if !port.Exists() {
					e.Result.Failuref("Port: %s Neighbor: %s Neighbor Port: %s - Port not found", n.Port, n.NeighborDevice, n.NeighborPort)
					continue
				}
				info := port.Get("lldpNeighborInfo").Array()
				if len(info) == 0 {
					e.Result.Failuref("Port: %s Neighbor: %s Neighbor Port: %s - No LLDP neighbors", n.Port, n.NeighborDevice, n.NeighborPort)
					continue
				}
				if !lldpMatch(info, n) {
					var seen []string
					for _, i := range info {
						seen = append(seen, fmt.Sprintf("%s/%s", i.Get("systemName").String(), i.Get("neighborInterfaceInfo.interfaceId_v2").String()))
					}
					e.Result.Failuref("Port: %s Neighbor: %s Neighbor Port: %s - Wrong LLDP neighbors: %s",
						n.Port, n.NeighborDevice, n.NeighborPort, bracketList(seen))
				}
			}
			e.Result.Success()
		},
	}
}

func lldpMatch(info []gjson.Result, n LLDPNeighbor) bool {
	for _, i := range info {
		if i.Get("systemName").String() == n.NeighborDevice &&
			i.Get("neighborInterfaceInfo.interfaceId_v2").String() == n.NeighborPort {
			return true
		}
	}
	return false
}

// InterfaceState is the expected state of one interface
type InterfaceState struct {
	Name               string `yaml:"name"`
	Status             string `yaml:"status"`
	LineProtocolStatus string `yaml:"line_protocol_status"`
}

// InterfacesInputs configures VerifyInterfacesStatus
type InterfacesInputs struct {
	Interfaces []InterfaceState `yaml:"interfaces"`
}

// Validate implements check.Validator
func (i *InterfacesInputs) Validate() error {
	if len(i.Interfaces) == 0 {
		return errors.New("interfaces must not be empty")
	}
	for _, intf := range i.Interfaces {
		switch intf.Status {
		case "up", "down", "adminDown":
		default:
			return fmt.Errorf("interface %s: invalid status %q (must be up, down or adminDown)", intf.Name, intf.Status)
		}
	}
	return nil
}

// VerifyInterfacesStatus checks the admin and line protocol status of interfaces
func VerifyInterfacesStatus() *check.Test {
	return &check.Test{
		Name:        "VerifyInterfacesStatus",
		Description: "Verifies the operational states of specified interfaces",
		Categories:  []string{"interfaces"},
		Commands:    []device.Template{{Text: "show interfaces description", Revision: 1}},
		Inputs:      func() any { return &InterfacesInputs{} },
		Evaluate: func(e *check.Evaluation) {
			in := check.InputsOf[InterfacesInputs](e)
			out := e.Commands[0].JSON()

			for _, intf := range in.Interfaces {
				data := out.Get("interfaceDescriptions." + device.EscapeKey(intf.Name))
				if !data.Exists() {
					e.Result.Failuref("Interface: %s - Not configured", intf.Name)
					continue
				}
				status := data.Get("interfaceStatus").String()
				if status != intf.Status {
					e.Result.Failuref("Interface: %s - Status mismatch - Expected: %s Actual: %s", intf.Name, intf.Status, status)
					continue
				}
				if intf.LineProtocolStatus == "" {
					continue
				}
				proto := data.Get("lineProtocolStatus").String()
				if proto != intf.LineProtocolStatus {
					e.Result.Failuref("Interface: %s - Line protocol status mismatch - Expected: %s Actual: %s",
						intf.Name, intf.LineProtocolStatus, proto)
				}
			}
			e.Result.Success()
		},
	}
}
