package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/stone-age-io/fleetcheck/internal/agent"
	"github.com/stone-age-io/fleetcheck/internal/check/library"
	"github.com/stone-age-io/fleetcheck/internal/config"
)

var version = "dev"

// exitCode is set by commands that report a verdict
var exitCode int

// Options are the global command line options
type Options struct {
	Config string `short:"c" long:"config" description:"path to the configuration file"`
}

var opts Options

type runCommand struct {
	Devices         []string `short:"d" long:"device" description:"only run on this device (repeatable)"`
	Tags            []string `short:"t" long:"tag" description:"only run on devices and checks with this tag (repeatable)"`
	Checks          []string `short:"C" long:"check" description:"only run this check (repeatable)"`
	EstablishedOnly bool     `short:"e" long:"established-only" description:"skip devices that do not answer a probe"`
	DryRun          bool     `short:"n" long:"dry-run" description:"plan the run without contacting devices"`
}

// Execute runs once and sets the exit code from the overall status
func (c *runCommand) Execute(args []string) error {
	a, err := agent.New(configPath(), version)
	if err != nil {
		return err
	}
	defer a.Close()

	filters := a.DefaultFilters()
	if len(c.Devices) > 0 {
		filters.Devices = c.Devices
	}
	if len(c.Tags) > 0 {
		filters.Tags = c.Tags
	}
	if len(c.Checks) > 0 {
		filters.Checks = c.Checks
	}
	if c.EstablishedOnly {
		filters.EstablishedOnly = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := a.Execute(ctx, filters, c.DryRun)
	if err != nil {
		return err
	}
	if summary.Message != "" {
		fmt.Println(summary.Message)
	}
	exitCode = summary.ExitCode
	return nil
}

type watchCommand struct{}

// Execute runs in watch mode, under the service manager when there is one
func (c *watchCommand) Execute(args []string) error {
	return runService(configPath())
}

type checksCommand struct{}

// Execute lists the built-in checks
func (c *checksCommand) Execute(args []string) error {
	registry := library.NewRegistry()
	for _, name := range registry.Names() {
		t, _ := registry.Get(name)
		fmt.Printf("%-28s %-24s %s\n", name, strings.Join(t.Categories, ","), t.Description)
	}
	return nil
}

type versionCommand struct{}

// Execute prints the version
func (c *versionCommand) Execute(args []string) error {
	fmt.Println("fleetcheck", version)
	return nil
}

func configPath() string {
	if opts.Config != "" {
		return opts.Config
	}
	return config.GetDefaultConfigPath()
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "fleetcheck"

	commands := []struct {
		name, short, long string
		data              any
	}{
		{"run", "Run checks once", "Run the catalog against the inventory once. The exit code is 0 on success, 1 on failure and 2 on error.", &runCommand{}},
		{"watch", "Run checks on a schedule", "Run on the configured schedule and answer NATS commands until stopped.", &watchCommand{}},
		{"service", "Manage the system service", "Install, uninstall, start or stop fleetcheck as a system service.", &serviceCommand{}},
		{"checks", "List built-in checks", "List the checks the catalog can reference.", &checksCommand{}},
		{"version", "Print the version", "Print the version and exit.", &versionCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		// go-flags already printed parser errors
		if _, ok := err.(*flags.Error); !ok {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(2)
	}
	os.Exit(exitCode)
}
