package main

import (
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/stone-age-io/fleetcheck/internal/agent"
)

// program adapts the agent to the service manager
type program struct {
	configPath string
	agent      *agent.Agent
	done       chan error
}

func (p *program) Start(s service.Service) error {
	a, err := agent.New(p.configPath, version)
	if err != nil {
		return err
	}
	p.agent = a
	p.done = make(chan error, 1)
	go func() {
		p.done <- a.Run()
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent == nil {
		return nil
	}
	p.agent.Stop()
	return <-p.done
}

func newService(configPath string) (service.Service, *program, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	prg := &program{configPath: abs}
	svc, err := service.New(prg, &service.Config{
		Name:        "fleetcheck",
		DisplayName: "Fleetcheck",
		Description: "Validates the network device fleet on a schedule.",
		Arguments:   []string{"--config", abs, "watch"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, prg, nil
}

// runService runs watch mode in the foreground, or under the service
// manager when started by one
func runService(configPath string) error {
	if service.Interactive() {
		a, err := agent.New(configPath, version)
		if err != nil {
			return err
		}
		return a.Run()
	}

	svc, _, err := newService(configPath)
	if err != nil {
		return err
	}
	return svc.Run()
}

type serviceCommand struct {
	Args struct {
		Action string `positional-arg-name:"action" description:"install, uninstall, start, stop or status"`
	} `positional-args:"yes" required:"yes"`
}

// Execute performs a service manager action
func (c *serviceCommand) Execute(args []string) error {
	svc, _, err := newService(configPath())
	if err != nil {
		return err
	}

	if c.Args.Action == "status" {
		status, err := svc.Status()
		if err != nil {
			return fmt.Errorf("failed to get service status: %w", err)
		}
		fmt.Println(statusName(status))
		return nil
	}

	if err := service.Control(svc, c.Args.Action); err != nil {
		return fmt.Errorf("service %s failed (valid actions: %v, status): %w", c.Args.Action, service.ControlAction, err)
	}
	fmt.Printf("Service %s: done\n", c.Args.Action)
	return nil
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
