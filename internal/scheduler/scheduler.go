// Package scheduler runs the recurring due-reminder sweep: find reminders
// whose due time has passed and that are still undelivered, dispatch each
// one, and mark it delivered.
//
// The sweeper holds no state across cycles. Everything durable lives in the
// store, so a crash mid-sweep loses nothing: reminders that were dispatched
// but not yet marked delivered are simply dispatched again on the next sweep
// after restart. Delivery is therefore at-least-once.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/lalithlochan/tickler/internal/db"
	"github.com/lalithlochan/tickler/internal/dispatch"
	"github.com/lalithlochan/tickler/internal/metrics"
)

// Store is the slice of the repository the sweep needs.
type Store interface {
	FindDueUndelivered(ctx context.Context, now time.Time) ([]*db.Reminder, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
}

// Sweeper owns the sweep timer. It is started and stopped by the process
// owner and takes the store and dispatcher as explicit dependencies.
type Sweeper struct {
	store      Store
	dispatcher dispatch.Dispatcher
	config     Config
	logger     *zap.Logger

	now func() time.Time
}

type Config struct {
	// SweepInterval is how often due reminders are checked. Delivery latency
	// is bounded by this interval, not instantaneous.
	SweepInterval time.Duration

	// DispatchTimeout bounds a single notification attempt.
	DispatchTimeout time.Duration
}

// New creates a sweeper. Intervals default to 60s sweeps and 5s dispatches.
func New(store Store, dispatcher dispatch.Dispatcher, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = 5 * time.Second
	}

	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Start runs the sweep loop until ctx is canceled. In-flight dispatches are
// allowed to finish their bounded timeout; the store's row-level updates mean
// shutdown can never leave partial writes behind.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("sweeper started",
		zap.Duration("sweep_interval", s.config.SweepInterval),
	)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep executes one due-check cycle. A storage outage aborts the cycle and
// logs; nothing is lost because the next tick retries the same due set.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()
	metrics.RecordSweep()

	due, err := s.store.FindDueUndelivered(ctx, now)
	if err != nil {
		s.logger.Error("failed to query due reminders", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("sweeping due reminders", zap.Int("count", len(due)))

	for _, rem := range due {
		// Candidates are independent: one failure never blocks the rest.
		s.process(ctx, rem)
	}
}

func (s *Sweeper) process(ctx context.Context, rem *db.Reminder) {
	message := fmt.Sprintf("🔔 Reminder: %s (scheduled)", rem.Text)

	dispatchCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
	err := s.dispatcher.Send(dispatchCtx, rem.Owner, message)
	cancel()

	if err != nil {
		// Leave delivered=false; the next sweep retries. No backoff and no
		// retry cap: an undeliverable reminder keeps being attempted.
		metrics.RecordDispatch("failed")
		s.logger.Error("failed to dispatch reminder",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
			zap.String("owner", rem.Owner),
		)
		return
	}

	metrics.RecordDispatch("sent")

	if err := s.store.MarkDelivered(ctx, rem.ID); err != nil {
		// The notification went out but the flag didn't stick, so the next
		// sweep will dispatch again. Duplicate delivery is the accepted
		// at-least-once tradeoff.
		s.logger.Error("dispatched but failed to mark delivered, will redispatch",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return
	}

	s.logger.Info("reminder delivered",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("owner", rem.Owner),
		zap.Time("due_at", rem.DueAt),
	)
}
