// Package notify delivers outbound operator notifications. The pipeline
// engine talks to the Notifier contract; Console is the default sink, and
// Recorder captures messages for tests and audits.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/cadence/internal/pipeline"
)

// Console writes notifications to the structured log. It stands in for a
// real chat transport when none is configured, so notify steps never fail
// just because delivery is local.
type Console struct {
	log *slog.Logger
	mu  sync.Mutex
	n   int
}

// NewConsole creates a console notifier over a logger.
func NewConsole(log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{log: log}
}

// Send logs the message and returns a synthetic delivery id.
func (c *Console) Send(_ context.Context, message, format string) (pipeline.NotifyResult, error) {
	c.mu.Lock()
	c.n++
	id := fmt.Sprintf("console-%d", c.n)
	c.mu.Unlock()

	c.log.Info("notification", "message", message, "format", format, "message_id", id)
	return pipeline.NotifyResult{Success: true, MessageID: id}, nil
}

// Recorder collects sent messages in memory.
type Recorder struct {
	mu       sync.Mutex
	Messages []string
}

// Send records the message.
func (r *Recorder) Send(_ context.Context, message, _ string) (pipeline.NotifyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, message)
	return pipeline.NotifyResult{Success: true, MessageID: fmt.Sprintf("rec-%d", len(r.Messages))}, nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Messages))
	copy(out, r.Messages)
	return out
}
