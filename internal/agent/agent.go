package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/stone-age-io/fleetcheck/internal/bootstrap"
	"github.com/stone-age-io/fleetcheck/internal/catalog"
	"github.com/stone-age-io/fleetcheck/internal/check/library"
	"github.com/stone-age-io/fleetcheck/internal/config"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"github.com/stone-age-io/fleetcheck/internal/inventory"
	natsclient "github.com/stone-age-io/fleetcheck/internal/nats"
	"github.com/stone-age-io/fleetcheck/internal/report"
	"github.com/stone-age-io/fleetcheck/internal/result"
	"github.com/stone-age-io/fleetcheck/internal/runner"
	"github.com/stone-age-io/fleetcheck/internal/scheduler"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Agent owns everything a run needs: inventory, catalog, runner and the
// optional NATS side
type Agent struct {
	config    *config.Config
	logger    *zap.Logger
	inventory *inventory.Inventory
	catalog   *catalog.Catalog
	runner    *runner.Runner
	nats      *natsclient.Client
	publisher *report.Publisher
	handlers  *natsclient.CommandHandlers
	scheduler *scheduler.Scheduler
	version   string

	// runs share device caches and catalog indexes, so they never overlap
	runMu     sync.Mutex
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New loads the configuration at configPath and builds the agent
func New(configPath string, version string) (*Agent, error) {
	// .env next to the config, then in the working directory
	if err := bootstrap.LoadEnv(filepath.Join(filepath.Dir(configPath), ".env"), ".env"); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting fleetcheck", zap.String("version", version))

	a := &Agent{config: cfg, logger: logger, version: version}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) init() error {
	cfg := a.config

	fileLimit, err := bootstrap.AdjustFileLimit(cfg.Runner.FileLimit, a.logger)
	if err != nil {
		a.logger.Warn("Could not adjust the open file limit", zap.Error(err))
	}
	concurrency := bootstrap.ConcurrencyCeiling(cfg.Runner.Concurrency, fileLimit, a.logger)

	deps := device.Dependencies{
		HTTPClient:         device.NewHTTPClient(cfg.Inventory.Timeout, false),
		InsecureHTTPClient: device.NewHTTPClient(cfg.Inventory.Timeout, true),
	}

	// NATS first: proxied devices need it as their requester
	if cfg.NATS.Enabled {
		a.logger.Info("Connecting to NATS...")
		a.nats, err = natsclient.NewClient(&cfg.NATS, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		deps.Requester = a.nats
	}

	builder := &inventory.Builder{
		Defaults:     cfg.Inventory.Defaults,
		Deps:         deps,
		DisableCache: cfg.Runner.DisableCache,
		Logger:       a.logger,
	}
	if cfg.Inventory.Consul.Enabled {
		kv, err := inventory.NewConsulKV(cfg.Inventory.Consul.Address, cfg.Inventory.Consul.Token)
		if err != nil {
			return err
		}
		a.inventory, err = builder.LoadConsul(kv, cfg.Inventory.Consul.Prefix)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}
	} else {
		a.inventory, err = builder.LoadFile(cfg.Inventory.File)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}
	}

	a.catalog, err = catalog.Load(cfg.Catalog.File, library.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	a.logger.Info("Catalog loaded", zap.Int("checks", a.catalog.Len()))

	a.runner = runner.New(a.logger, concurrency)

	if cfg.Report.Publish {
		a.publisher = report.NewPublisher(a.nats, cfg.NATS.SubjectPrefix, a.logger)
	}
	return nil
}

// DefaultFilters returns the filters from the configuration
func (a *Agent) DefaultFilters() runner.Filters {
	f := a.config.Filters
	return runner.Filters{
		Devices:         f.Devices,
		Checks:          f.Checks,
		Tags:            f.Tags,
		EstablishedOnly: f.EstablishedOnly,
	}
}

// Execute performs one run into a fresh result manager, then reports it.
// Reporting failures are logged; only configuration errors are returned.
func (a *Agent) Execute(ctx context.Context, filters runner.Filters, dryRun bool) (*report.Summary, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	mgr := result.NewManager()
	out, err := a.runner.Run(ctx, a.inventory, a.catalog, mgr, filters, dryRun)
	if err != nil {
		return nil, err
	}

	summary := report.Summarize(out, mgr, a.config.Runner.IgnoreError)
	report.LogSummary(a.logger, summary)
	if dryRun {
		return summary, nil
	}

	if path := a.config.Report.TextfilePath; path != "" {
		if err := report.WriteTextfile(path, summary, mgr); err != nil {
			a.logger.Error("Failed to write textfile", zap.String("path", path), zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(summary, mgr); err != nil {
			a.logger.Error("Failed to publish results", zap.Error(err))
		}
	}
	return summary, nil
}

// Stats returns runner statistics
func (a *Agent) Stats() *runner.Metrics {
	return a.runner.Stats()
}

// Run starts watch mode: command subscriptions and, when enabled, the
// schedule. It blocks until a signal arrives or Stop is called.
func (a *Agent) Run() error {
	if a.nats != nil {
		runTimeout := a.config.Schedule.Interval
		if runTimeout <= 0 {
			runTimeout = 15 * time.Minute
		}
		a.handlers = natsclient.NewCommandHandlers(a.logger, a.config.NATS.SubjectPrefix, a, runTimeout, a.version, a.config.Logging.File)
		if err := a.handlers.SubscribeAll(a.nats); err != nil {
			a.Close()
			return fmt.Errorf("failed to subscribe to commands: %w", err)
		}
	}

	if a.config.Schedule.Enabled {
		sched, err := scheduler.New(a.ctx, a.logger, a.config.Schedule.Interval, func(ctx context.Context) error {
			_, err := a.Execute(ctx, a.DefaultFilters(), false)
			return err
		})
		if err != nil {
			a.Close()
			return err
		}
		a.scheduler = sched
		a.scheduler.Start()
	}

	if a.scheduler == nil && a.handlers == nil {
		a.Close()
		return fmt.Errorf("nothing to watch: enable schedule or nats")
	}

	a.logger.Info("Fleetcheck running",
		zap.Bool("schedule", a.scheduler != nil),
		zap.Bool("commands", a.handlers != nil),
		zap.String("version", a.version))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case <-a.ctx.Done():
		a.logger.Info("Context cancelled")
	}

	return a.Shutdown()
}

// Stop makes Run return
func (a *Agent) Stop() {
	a.cancel()
}

// Shutdown stops scheduling, drains NATS and closes devices
func (a *Agent) Shutdown() error {
	a.logger.Info("Shutting down gracefully")
	a.cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(); err != nil {
			a.logger.Error("Error shutting down scheduler", zap.Error(err))
		}
	}

	a.logger.Info("Shutdown complete")
	a.Close()
	return nil
}

// Close releases devices and the NATS connection. Only the first call has
// an effect.
func (a *Agent) Close() {
	a.closeOnce.Do(a.close)
}

func (a *Agent) close() {
	a.cancel()

	if a.nats != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), a.config.NATS.DrainTimeout)
		if err := a.nats.Drain(drainCtx); err != nil {
			a.logger.Error("Error draining NATS", zap.Error(err))
		}
		cancel()
	}

	if a.inventory != nil {
		if err := a.inventory.Close(); err != nil {
			a.logger.Warn("Error closing devices", zap.Error(err))
		}
	}

	_ = a.logger.Sync()
}

// initLogger creates the logger: JSON to a rotated file and console to stdout
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     28, // days
		Compress:   true,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
