package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/fleetcheck/internal/logs"
	"github.com/stone-age-io/fleetcheck/internal/report"
	"github.com/stone-age-io/fleetcheck/internal/runner"
	"github.com/stone-age-io/fleetcheck/internal/utils"
	"go.uber.org/zap"
)

// Executor performs on-demand runs for the command handlers
type Executor interface {
	Execute(ctx context.Context, filters runner.Filters, dryRun bool) (*report.Summary, error)
	Stats() *runner.Metrics
}

// Subscriber registers message handlers. The Client satisfies it.
type Subscriber interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// CommandHandlers answers request/reply commands under <prefix>.cmd
type CommandHandlers struct {
	logger        *zap.Logger
	subjectPrefix string
	executor      Executor
	runTimeout    time.Duration
	version       string
	logFile       string
	reply         func(msg *nats.Msg, data []byte) error
}

// NewCommandHandlers creates the command handlers. runTimeout bounds an
// on-demand run; logFile is the only file the logs command reads.
func NewCommandHandlers(logger *zap.Logger, subjectPrefix string, executor Executor, runTimeout time.Duration, version, logFile string) *CommandHandlers {
	return &CommandHandlers{
		logger:        logger,
		subjectPrefix: subjectPrefix,
		executor:      executor,
		runTimeout:    runTimeout,
		version:       version,
		logFile:       logFile,
		reply:         (*nats.Msg).Respond,
	}
}

// handleWithRecovery keeps a panicking handler from taking the process down
// and still answers the caller
func (h *CommandHandlers) handleWithRecovery(name string, handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic recovered in command handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
				h.respondError(msg, fmt.Sprintf("Internal error: handler panicked: %v", r))
			}
		}()

		handler(msg)
	}
}

// SubscribeAll subscribes every command subject
func (h *CommandHandlers) SubscribeAll(sub Subscriber) error {
	commands := []struct {
		name    string
		handler nats.MsgHandler
	}{
		{"ping", h.handlePing},
		{"health", h.handleHealth},
		{"run", h.handleRun},
		{"logs", h.handleLogs},
	}

	for _, c := range commands {
		subject := fmt.Sprintf("%s.cmd.%s", h.subjectPrefix, c.name)
		if _, err := sub.Subscribe(subject, h.handleWithRecovery(c.name, c.handler)); err != nil {
			return err
		}
	}
	return nil
}

type pingResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}

type processMetrics struct {
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	Goroutines    int     `json:"goroutines"`
}

type healthResponse struct {
	Status    string          `json:"status"`
	Process   processMetrics  `json:"process"`
	Runner    *runner.Metrics `json:"runner"`
	Timestamp string          `json:"timestamp"`
}

type runRequest struct {
	runner.Filters
	DryRun bool `json:"dry_run"`
}

type runResponse struct {
	Status    string          `json:"status"`
	Summary   *report.Summary `json:"summary,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type logsRequest struct {
	Lines int `json:"lines"`
}

type logsResponse struct {
	Status    string   `json:"status"`
	Lines     []string `json:"lines"`
	Timestamp string   `json:"timestamp"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func (h *CommandHandlers) handlePing(msg *nats.Msg) {
	h.respond(msg, pingResponse{
		Status:    "pong",
		Version:   h.version,
		Timestamp: timestamp(),
	})
}

func (h *CommandHandlers) handleHealth(msg *nats.Msg) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h.respond(msg, healthResponse{
		Status: "healthy",
		Process: processMetrics{
			MemoryUsageMB: utils.Round(float64(mem.Sys) / 1024 / 1024),
			Goroutines:    runtime.NumGoroutine(),
		},
		Runner:    h.executor.Stats(),
		Timestamp: timestamp(),
	})
}

// handleRun starts a run and replies with its summary once it completes.
// An empty payload runs with no filters.
func (h *CommandHandlers) handleRun(msg *nats.Msg) {
	var req runRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			h.logger.Warn("Invalid run request", zap.Error(err))
			h.respondError(msg, "Invalid request format")
			return
		}
	}

	h.logger.Info("Run requested",
		zap.Strings("devices", req.Devices),
		zap.Strings("checks", req.Checks),
		zap.Strings("tags", req.Tags),
		zap.Bool("dry_run", req.DryRun))

	ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
	defer cancel()

	summary, err := h.executor.Execute(ctx, req.Filters, req.DryRun)
	if err != nil {
		h.respondError(msg, err.Error())
		return
	}

	h.respond(msg, runResponse{
		Status:    "success",
		Summary:   summary,
		Timestamp: timestamp(),
	})
}

// handleLogs returns the last lines of the fleetcheck log, 100 by default
func (h *CommandHandlers) handleLogs(msg *nats.Msg) {
	req := logsRequest{Lines: 100}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			h.respondError(msg, "Invalid request format")
			return
		}
	}

	lines, err := logs.Tail(h.logFile, req.Lines)
	if err != nil {
		h.respondError(msg, err.Error())
		return
	}

	h.respond(msg, logsResponse{
		Status:    "success",
		Lines:     lines,
		Timestamp: timestamp(),
	})
}

func (h *CommandHandlers) respondError(msg *nats.Msg, errorMsg string) {
	h.respond(msg, errorResponse{
		Status:    "error",
		Error:     errorMsg,
		Timestamp: timestamp(),
	})
}

func (h *CommandHandlers) respond(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode response", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := h.reply(msg, data); err != nil {
		h.logger.Warn("Failed to send response", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
