package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stone-age-io/fleetcheck/internal/result"
	"go.uber.org/zap"
)

// Sink queues a message for delivery. The NATS client satisfies it.
type Sink interface {
	Publish(subject string, data []byte) error
}

// Publisher sends run results to a message bus
type Publisher struct {
	sink   Sink
	prefix string
	logger *zap.Logger
}

// NewPublisher creates a publisher writing under prefix
func NewPublisher(sink Sink, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{sink: sink, prefix: prefix, logger: logger}
}

type deviceMessage struct {
	RunID   string            `json:"run_id"`
	Device  string            `json:"device"`
	Results []result.Snapshot `json:"results"`
}

// Publish sends one message per device on <prefix>.results.<device>, then
// the summary on <prefix>.summary. A failed device publish is logged and
// does not stop the others.
func (p *Publisher) Publish(s *Summary, mgr *result.Manager) error {
	var failed int
	for _, name := range mgr.Devices() {
		msg := deviceMessage{RunID: s.RunID, Device: name}
		for _, r := range mgr.ByDevice(name) {
			msg.Results = append(msg.Results, r.Snapshot())
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode results of %s: %w", name, err)
		}
		subject := fmt.Sprintf("%s.results.%s", p.prefix, subjectToken(name))
		if err := p.sink.Publish(subject, data); err != nil {
			failed++
			p.logger.Warn("Failed to publish device results",
				zap.String("device", name),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := p.sink.Publish(p.prefix+".summary", data); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("failed to publish results of %d devices", failed)
	}
	return nil
}

// subjectToken makes a device name safe to use as a single subject token
func subjectToken(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, name)
}
