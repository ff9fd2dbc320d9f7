package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leasepulse/renewal-webhooks/internal/deliverer"
	"github.com/leasepulse/renewal-webhooks/internal/domain"
	"github.com/leasepulse/renewal-webhooks/internal/observability"
	"github.com/leasepulse/renewal-webhooks/internal/ratelimit"
	"github.com/leasepulse/renewal-webhooks/internal/repository"
	"github.com/leasepulse/renewal-webhooks/internal/signature"
)

const defaultIdempotencyWindow = time.Hour

// TriggerResult is the synchronous acknowledgement returned to the caller.
// It never reflects the outcome of the background delivery loop.
type TriggerResult struct {
	EventExternalID string
	Status          domain.Status
	AlreadyExists   bool
}

// DispatchService is the delivery orchestrator: it guards idempotency,
// creates the durable event row, and drives each event's attempt/backoff
// loop to a terminal state on its own goroutine.
type DispatchService struct {
	events      repository.EventRepository
	deadLetters repository.DeadLetterRepository
	endpoints   repository.EndpointConfigRepository
	deliverer   deliverer.Deliverer
	rateLimiter ratelimit.RateLimiter
	policy      *RetryPolicy
	window      time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	spawn func(fn func())

	wg sync.WaitGroup
}

func NewDispatchService(
	events repository.EventRepository,
	deadLetters repository.DeadLetterRepository,
	endpoints repository.EndpointConfigRepository,
	del deliverer.Deliverer,
	rateLimiter ratelimit.RateLimiter,
	policy *RetryPolicy,
	idempotencyWindow time.Duration,
	logger *zap.Logger,
) (*DispatchService, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter repository is required")
	}
	if endpoints == nil {
		return nil, fmt.Errorf("endpoint config repository is required")
	}
	if del == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if policy == nil {
		policy = NewRetryPolicy(domain.MaxAttempts)
	}
	if idempotencyWindow <= 0 {
		idempotencyWindow = defaultIdempotencyWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &DispatchService{
		events:      events,
		deadLetters: deadLetters,
		endpoints:   endpoints,
		deliverer:   del,
		rateLimiter: rateLimiter,
		policy:      policy,
		window:      idempotencyWindow,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepWithContext,
	}
	s.spawn = func(fn func()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn()
		}()
	}

	return s, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Wait blocks until all spawned delivery loops have finished.
func (s *DispatchService) Wait() {
	s.wg.Wait()
}

// Trigger accepts a risk snapshot for delivery. It returns as soon as the
// event row is persisted; delivery runs in the background and its errors are
// only ever logged.
func (s *DispatchService) Trigger(ctx context.Context, tenantID, subjectID string, snapshot domain.RiskSnapshot) (*TriggerResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	tenantID = strings.TrimSpace(tenantID)
	subjectID = strings.TrimSpace(subjectID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", domain.ErrValidation)
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	// Best-effort, time-boxed dedup: a concurrent pair of triggers can both
	// pass this check, which the design tolerates.
	recent, err := s.events.GetRecentForSubject(ctx, tenantID, subjectID, domain.EventTypeRiskFlagged, now.Add(-s.window))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check recent events: %w", err)
	}
	if recent != nil {
		s.logger.Info("duplicate trigger within idempotency window",
			zap.String("tenantId", tenantID),
			zap.String("subjectId", subjectID),
			zap.String("eventId", recent.ExternalEventID),
			zap.String("status", recent.Status.String()),
		)
		return &TriggerResult{
			EventExternalID: recent.ExternalEventID,
			Status:          recent.Status,
			AlreadyExists:   true,
		}, nil
	}

	// No active endpoint is a synchronous configuration error; no event row
	// is created, so StatusQuery keeps answering not-found for this subject.
	endpoint, err := s.endpoints.GetActiveByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNoEndpoint) {
			return nil, fmt.Errorf("%w for tenant %s", domain.ErrNoEndpoint, tenantID)
		}
		return nil, fmt.Errorf("failed to resolve endpoint config: %w", err)
	}

	externalEventID := "evt_" + uuid.NewString()
	payload, err := domain.MarshalEventPayload(externalEventID, tenantID, subjectID, snapshot, now)
	if err != nil {
		return nil, err
	}

	event := &domain.WebhookEvent{
		ID:              uuid.NewString(),
		ExternalEventID: externalEventID,
		TenantID:        tenantID,
		SubjectID:       subjectID,
		EventType:       domain.EventTypeRiskFlagged,
		Payload:         payload,
		Status:          domain.StatusPending,
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}

	loopEvent := *event
	loopEndpoint := *endpoint
	s.spawn(func() {
		s.runLoop(loopEvent, loopEndpoint)
	})

	return &TriggerResult{
		EventExternalID: event.ExternalEventID,
		Status:          event.Status,
	}, nil
}

// Resume restarts the delivery loop for an event recovered by the sweeper.
func (s *DispatchService) Resume(event domain.WebhookEvent) {
	s.spawn(func() {
		ctx := observability.WithEventID(context.Background(), event.ExternalEventID)
		logger := s.loopLogger(ctx, event)

		endpoint, err := s.endpoints.GetActiveByTenant(ctx, event.TenantID)
		if err != nil {
			if errors.Is(err, domain.ErrNoEndpoint) {
				// The endpoint was deactivated while retries were pending;
				// the event can never be delivered.
				s.failWithoutAttempt(ctx, event, "active webhook endpoint removed while retries were pending")
				return
			}
			logger.Error("failed to resolve endpoint config for resume", zap.Error(err))
			return
		}

		s.runLoop(event, *endpoint)
	})
}

// LatestFor returns the most recently created event for the subject, the
// read-only status projection polled by the collaborator.
func (s *DispatchService) LatestFor(ctx context.Context, tenantID, subjectID string) (*domain.WebhookEvent, error) {
	tenantID = strings.TrimSpace(tenantID)
	subjectID = strings.TrimSpace(subjectID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", domain.ErrValidation)
	}

	return s.events.GetLatestForSubject(ctx, tenantID, subjectID)
}

// runLoop drives one event's attempts to a terminal state. It runs detached
// from the triggering request: the loop keeps a Background context so an
// accepted event is not abandoned when the caller disconnects, and every
// failure inside the loop is logged, never returned.
func (s *DispatchService) runLoop(event domain.WebhookEvent, endpoint domain.EndpointConfig) {
	ctx := observability.WithEventID(context.Background(), event.ExternalEventID)
	logger := s.loopLogger(ctx, event)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("delivery loop panicked", zap.Any("panic", r))
		}
	}()

	if s.metrics != nil {
		s.metrics.IncDeliveryInFlight(event.TenantID)
		defer s.metrics.DecDeliveryInFlight(event.TenantID)
	}

	sig, err := signature.Sign(event.Payload, endpoint.Secret)
	if err != nil {
		logger.Error("failed to sign payload", zap.Error(err))
		return
	}

	for {
		if s.rateLimiter != nil {
			if err := s.rateLimiter.Wait(ctx, event.TenantID); err != nil {
				logger.Error("rate limiter wait failed", zap.Error(err))
				return
			}
		}

		claimed, err := s.events.ClaimForAttempt(ctx, event.ID)
		if err != nil {
			logger.Error("failed to claim event for attempt", zap.Error(err))
			return
		}
		if claimed == nil {
			// Another loop (or a terminal transition) owns the event.
			logger.Debug("event no longer claimable, stopping loop")
			return
		}

		attemptNumber := claimed.AttemptCount + 1
		attemptLogger := logger.With(zap.Int("attempt", attemptNumber))

		start := s.now()
		outcome, err := s.deliverer.Attempt(ctx, endpoint.URL, claimed.Payload, sig, claimed.ExternalEventID)
		if s.metrics != nil {
			s.metrics.ObserveAttemptDuration(event.TenantID, s.now().Sub(start))
		}
		if err != nil {
			// Deliverer input errors (e.g. a malformed configured URL) count
			// as failed attempts so the event still reaches a terminal state.
			outcome = &deliverer.Outcome{Success: false, Detail: err.Error()}
		}

		attemptedAt := s.now().UTC()
		audit := repository.AttemptAudit{
			AttemptCount: attemptNumber,
			AttemptedAt:  attemptedAt,
			ResponseCode: outcome.StatusCode,
			ResponseBody: outcome.Body,
		}

		decision := s.policy.Decide(attemptNumber, outcome.Success)
		switch decision.Action {
		case ActionDeliver:
			if err := s.events.MarkDelivered(ctx, event.ID, audit, attemptedAt); err != nil {
				attemptLogger.Error("failed to mark event delivered", zap.Error(err))
				return
			}
			if s.metrics != nil {
				s.metrics.IncDelivered(event.TenantID)
			}
			attemptLogger.Info("webhook delivered",
				zap.String("tenantId", event.TenantID),
				zap.String("subjectId", event.SubjectID),
			)
			return

		case ActionRetry:
			nextRetryAt := attemptedAt.Add(decision.Backoff)
			if err := s.events.MarkRetryScheduled(ctx, event.ID, audit, nextRetryAt); err != nil {
				attemptLogger.Error("failed to schedule retry", zap.Error(err))
				return
			}
			if s.metrics != nil {
				s.metrics.IncRetryScheduled(event.TenantID)
			}
			attemptLogger.Warn("delivery attempt failed, retry scheduled",
				zap.String("tenantId", event.TenantID),
				zap.String("subjectId", event.SubjectID),
				zap.String("detail", outcome.Detail),
				zap.Time("nextRetryAt", nextRetryAt),
			)
			if err := s.sleep(ctx, decision.Backoff); err != nil {
				// The row stays PENDING with a due next_retry_at; the
				// recovery sweep picks it up.
				attemptLogger.Warn("backoff interrupted, leaving event for sweep", zap.Error(err))
				return
			}

		case ActionFail:
			if err := s.events.MarkFailed(ctx, event.ID, audit); err != nil {
				attemptLogger.Error("failed to mark event failed", zap.Error(err))
				return
			}
			s.recordDeadLetter(ctx, attemptLogger, event, attemptNumber, failureDetail(outcome))
			if s.metrics != nil {
				s.metrics.IncDeliveryFailed(event.TenantID, "retry_exhausted")
			}
			attemptLogger.Error("delivery abandoned after final attempt",
				zap.String("tenantId", event.TenantID),
				zap.String("subjectId", event.SubjectID),
				zap.String("detail", outcome.Detail),
			)
			return
		}
	}
}

// failWithoutAttempt terminates an event that can no longer be attempted at
// all, preserving the audit fields of its last real attempt.
func (s *DispatchService) failWithoutAttempt(ctx context.Context, event domain.WebhookEvent, reason string) {
	logger := s.loopLogger(ctx, event)

	attemptedAt := s.now().UTC()
	if event.LastAttemptAt != nil {
		attemptedAt = *event.LastAttemptAt
	}
	audit := repository.AttemptAudit{
		AttemptCount: event.AttemptCount,
		AttemptedAt:  attemptedAt,
		ResponseCode: event.LastResponseCode,
		ResponseBody: event.LastResponseBody,
	}

	if err := s.events.MarkFailed(ctx, event.ID, audit); err != nil {
		logger.Error("failed to mark unresumable event failed", zap.Error(err))
		return
	}
	s.recordDeadLetter(ctx, logger, event, event.AttemptCount, reason)
	if s.metrics != nil {
		s.metrics.IncDeliveryFailed(event.TenantID, "endpoint_removed")
	}
}

func (s *DispatchService) recordDeadLetter(ctx context.Context, logger *zap.Logger, event domain.WebhookEvent, attemptCount int, detail string) {
	record := &domain.DeadLetterRecord{
		ID:            uuid.NewString(),
		EventID:       event.ID,
		FailureReason: fmt.Sprintf("delivery failed after %d attempts: %s", attemptCount, detail),
		MovedAt:       s.now().UTC(),
	}
	if err := s.deadLetters.Create(ctx, record); err != nil {
		logger.Error("failed to record dead letter", zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.IncDeadLetter(event.TenantID)
	}
}

func (s *DispatchService) loopLogger(ctx context.Context, event domain.WebhookEvent) *zap.Logger {
	return observability.WithContextLogger(s.logger, ctx).With(
		zap.String("tenantId", event.TenantID),
		zap.String("subjectId", event.SubjectID),
	)
}

func failureDetail(outcome *deliverer.Outcome) string {
	if outcome == nil {
		return "unknown failure"
	}
	if strings.TrimSpace(outcome.Detail) != "" {
		return outcome.Detail
	}
	if outcome.StatusCode != nil {
		return fmt.Sprintf("receiver returned status %d", *outcome.StatusCode)
	}
	return "unknown failure"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
