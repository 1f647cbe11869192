package worker

import (
	"math"
	"time"

	"podflow/internal/config"
)

// RetryPolicy bounds execution attempts and spaces them out. Backoff is
// honored by the queue (SQS DelaySeconds on the re-published job), not by
// sleeping a worker goroutine.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Max         time.Duration
}

// NewRetryPolicy builds a RetryPolicy from worker configuration.
func NewRetryPolicy(cfg config.WorkerConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.BackoffBase,
		Factor:      cfg.BackoffFactor,
		Max:         cfg.BackoffMax,
	}
}

// Exhausted reports whether the given attempt number was the last allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Backoff returns the delay before the attempt following failedAttempt:
// Base * Factor^(failedAttempt-1), capped at Max. With the defaults
// (500ms, factor 5) that yields 500ms, 2.5s, 12.5s.
func (p RetryPolicy) Backoff(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	d := time.Duration(float64(p.Base) * math.Pow(p.Factor, float64(failedAttempt-1)))
	if d > p.Max || d < 0 {
		d = p.Max
	}
	return d
}
