// Package dispatch sends reminder notifications to an external delivery
// channel. Exactly one channel is active per deployment; the scheduler owns
// all retry policy, so dispatchers make a single attempt with a bounded
// timeout and report the outcome.
package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher delivers a single message to a recipient. Implementations do
// not retry; a returned error means the reminder stays undelivered and the
// next sweep tries again.
type Dispatcher interface {
	Send(ctx context.Context, recipient, message string) error
}

// LogDispatcher is the fallback when no delivery channel is configured. It
// logs the intended message and reports success, which lets the rest of the
// lifecycle (sweep, delivered flag) run locally without a live backend.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, recipient, message string) error {
	d.logger.Info("would notify (no delivery channel configured)",
		zap.String("recipient", recipient),
		zap.String("message", message),
	)
	return nil
}
