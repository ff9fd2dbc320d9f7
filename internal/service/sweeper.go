package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
	"github.com/leasepulse/renewal-webhooks/internal/repository"
)

const (
	defaultSweepInterval   = 5 * time.Second
	defaultSweepBatchLimit = 100

	// staleRequeueAfter is how long a row may sit untouched in PROCESSING
	// (or PENDING without a scheduled retry) before the sweep assumes its
	// loop died with the process and requeues it. Attempts are bounded by
	// the delivery timeout, so a live loop never trips this.
	staleRequeueAfter = 2 * time.Minute
)

// EventResumer restarts the delivery loop for a recovered event.
type EventResumer interface {
	Resume(event domain.WebhookEvent)
}

// RetrySweeper periodically resumes pending events whose retry is due.
// Because retry state lives in webhook_events rows rather than in-process
// timers, this sweep is what makes scheduled retries survive a restart.
type RetrySweeper struct {
	events   repository.EventRepository
	resumer  EventResumer
	logger   *zap.Logger
	interval time.Duration
	limit    int
	now      func() time.Time
}

func NewRetrySweeper(
	events repository.EventRepository,
	resumer EventResumer,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetrySweeper, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if resumer == nil {
		return nil, fmt.Errorf("event resumer is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepBatchLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrySweeper{
		events:   events,
		resumer:  resumer,
		logger:   logger,
		interval: interval,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (s *RetrySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so retries stranded by a restart do not wait for
	// the first ticker edge.
	if err := s.sweepDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweepDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *RetrySweeper) sweepDue(ctx context.Context) error {
	now := s.now().UTC()

	// Rows stranded by a crash or hard kill would otherwise sit in
	// PROCESSING (or unscheduled PENDING) forever; the due-retry query
	// below only sees rows with a due next_retry_at.
	requeued, err := s.events.RequeueStale(ctx, now.Add(-staleRequeueAfter), now)
	if err != nil {
		return fmt.Errorf("failed to requeue stale events: %w", err)
	}
	if requeued > 0 {
		s.logger.Info("requeued stale in-flight events", zap.Int64("count", requeued))
	}

	dueEvents, err := s.events.GetDueForRetry(ctx, now, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range dueEvents {
		event := dueEvents[i]
		s.logger.Info("resuming due event",
			zap.String("eventId", event.ExternalEventID),
			zap.String("tenantId", event.TenantID),
			zap.Int("attemptCount", event.AttemptCount),
		)
		// Resume spawns a loop that claims the row; an event already claimed
		// by a still-running in-process loop is skipped by that claim.
		s.resumer.Resume(event)
	}

	return nil
}
