package task

import "time"

// RetryPolicy is exponential backoff with a cap, the same shape as the
// teacher's message_sender.go scheduleRetry: start at InitialInterval,
// multiply by Multiplier each attempt, clamp to MaxInterval, give up after
// MaxRetries (0 means unlimited).
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxRetries      int
}

// DefaultRetryPolicy mirrors the teacher's default MessageSenderConfig
// retry tuning, scaled down for settlement's tighter latency budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     30 * time.Second,
		MaxRetries:      8,
	}
}

// BackoffFor returns the delay before attempt number attempt (0-indexed).
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	backoff := p.InitialInterval
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.MaxInterval {
			return p.MaxInterval
		}
	}
	return backoff
}

// Exhausted reports whether attempt has used up the policy's retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxRetries > 0 && attempt >= p.MaxRetries
}
