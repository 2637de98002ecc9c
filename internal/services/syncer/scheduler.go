package syncer

import (
	"math"
	"time"

	"barsync-go/config"
	"barsync-go/internal/remote"
)

// RetryScheduler decides when and whether a failed delivery gets another
// attempt. The backoff is a bounded ladder rather than unbounded
// exponential growth: operator attention is expected within minutes, not
// hours.
type RetryScheduler struct {
	initialDelay  time.Duration
	backoffFactor float64
	maxDelay      time.Duration
	maxRetries    int
}

// NewRetryScheduler creates a scheduler from the sync configuration.
func NewRetryScheduler(cfg config.SyncConfig) *RetryScheduler {
	return &RetryScheduler{
		initialDelay:  cfg.RetryInitialDelay,
		backoffFactor: cfg.RetryBackoffFactor,
		maxDelay:      cfg.RetryMaxDelay,
		maxRetries:    cfg.MaxRetries,
	}
}

// NextDelay computes the wait before the next attempt from the number of
// attempts already made.
func (s *RetryScheduler) NextDelay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	delay := float64(s.initialDelay) * math.Pow(s.backoffFactor, float64(attemptCount-1))
	if delay > float64(s.maxDelay) {
		return s.maxDelay
	}
	return time.Duration(delay)
}

// IsRetryEligible reports whether a failed delivery should be retried.
// Application-level rejections cannot succeed on replay; retrying them
// would be a retry storm against a deterministically failing call.
func (s *RetryScheduler) IsRetryEligible(attemptCount int, err error) bool {
	if attemptCount >= s.maxRetries {
		return false
	}
	return remote.IsTransient(err)
}

// MaxRetries is the configured attempt ceiling.
func (s *RetryScheduler) MaxRetries() int {
	return s.maxRetries
}
