package services

import "time"

// RetryPolicy computes outbox redelivery delays: Base doubled per prior
// failure, capped at Max. A message whose failure count would exceed
// MaxRetries is parked permanently.
type RetryPolicy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       30 * time.Second,
		Max:        30 * time.Minute,
		MaxRetries: 5,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.Base <= 0 {
		p.Base = defaults.Base
	}
	if p.Max < p.Base {
		p.Max = max(defaults.Max, p.Base)
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// Backoff returns the delay after a message has failed retryCount times
// before the current failure.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	p = p.normalized()
	delay := p.Base
	for i := 0; i < retryCount; i++ {
		if delay >= p.Max/2 {
			return p.Max
		}
		delay *= 2
	}
	return min(delay, p.Max)
}

// NextRetryAt returns nil when the failure exhausts the retry budget.
func (p RetryPolicy) NextRetryAt(retryCount int, now time.Time) *time.Time {
	p = p.normalized()
	if retryCount+1 > p.MaxRetries {
		return nil
	}
	next := now.UTC().Add(p.Backoff(retryCount))
	return &next
}
