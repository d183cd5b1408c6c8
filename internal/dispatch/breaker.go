package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker is rejecting dispatches to
// protect a failing delivery channel.
var ErrCircuitOpen = errors.New("notification channel circuit open")

// breakerState transitions:
//
//	closed -> open:       consecutive failures reach the threshold
//	open -> halfOpen:     recovery timeout elapses
//	halfOpen -> closed:   the probe dispatch succeeds
//	halfOpen -> open:     the probe dispatch fails
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the circuit breaker around a dispatcher.
type BreakerConfig struct {
	MaxFailures     int
	RecoveryTimeout time.Duration
}

// Breaker wraps a Dispatcher with a circuit breaker. While the circuit is
// open, dispatches fail fast and the affected reminders stay undelivered
// until a later sweep retries them.
type Breaker struct {
	next   Dispatcher
	logger *zap.Logger

	mu              sync.Mutex
	state           breakerState
	failureCount    int
	lastFailureTime time.Time
	probing         bool

	maxFailures     int
	recoveryTimeout time.Duration
}

// NewBreaker wraps next with circuit breaker protection.
func NewBreaker(next Dispatcher, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}

	return &Breaker{
		next:            next,
		logger:          logger,
		state:           stateClosed,
		maxFailures:     cfg.MaxFailures,
		recoveryTimeout: cfg.RecoveryTimeout,
	}
}

// Send forwards to the wrapped dispatcher unless the circuit is open, in
// which case it fails fast with ErrCircuitOpen.
func (b *Breaker) Send(ctx context.Context, recipient, message string) error {
	if !b.allow() {
		b.logger.Warn("dispatch rejected, circuit open",
			zap.String("recipient", recipient),
		)
		return ErrCircuitOpen
	}

	err := b.next.Send(ctx, recipient, message)
	if err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.lastFailureTime) >= b.recoveryTimeout {
			b.transitionTo(stateHalfOpen)
			b.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		// One probe at a time.
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false

	if b.state == stateHalfOpen {
		b.transitionTo(stateClosed)
		b.logger.Info("notification channel recovered, circuit closed")
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()
	b.probing = false

	switch b.state {
	case stateClosed:
		if b.failureCount >= b.maxFailures {
			b.transitionTo(stateOpen)
			b.logger.Warn("circuit opened, too many dispatch failures",
				zap.Int("failures", b.failureCount),
				zap.Int("threshold", b.maxFailures),
			)
		}
	case stateHalfOpen:
		b.transitionTo(stateOpen)
		b.logger.Warn("probe dispatch failed, circuit re-opened")
	}
}

// transitionTo changes state. Must be called with the lock held.
func (b *Breaker) transitionTo(next breakerState) {
	if b.state == next {
		return
	}
	b.logger.Debug("circuit state transition",
		zap.String("from", b.state.String()),
		zap.String("to", next.String()),
	)
	b.state = next
}

// String reports current breaker state, for health/debug output.
func (b *Breaker) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("Breaker[%s] failures=%d/%d", b.state, b.failureCount, b.maxFailures)
}
