package service

import (
	"time"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
)

// Action is the scheduler's verdict after a delivery attempt.
type Action int

const (
	ActionDeliver Action = iota
	ActionRetry
	ActionFail
)

// Decision pairs an action with the backoff to apply before the next attempt.
type Decision struct {
	Action  Action
	Backoff time.Duration
}

// backoffSchedule is indexed by the attempt number just completed: after
// attempt 1 wait 1s, after attempt 2 wait 2s, and so on.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// RetryPolicy decides, after each attempt, whether an event is delivered,
// retried, or escalated to the dead-letter path.
type RetryPolicy struct {
	maxAttempts int
}

func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = domain.MaxAttempts
	}
	return &RetryPolicy{maxAttempts: maxAttempts}
}

func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Decide applies the transition rule given the post-increment attempt count.
func (p *RetryPolicy) Decide(attemptCount int, success bool) Decision {
	if success {
		return Decision{Action: ActionDeliver}
	}
	if attemptCount >= p.maxAttempts {
		return Decision{Action: ActionFail}
	}
	return Decision{Action: ActionRetry, Backoff: backoffFor(attemptCount)}
}

func backoffFor(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	if attemptCount > len(backoffSchedule) {
		attemptCount = len(backoffSchedule)
	}
	return backoffSchedule[attemptCount-1]
}
