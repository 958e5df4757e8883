package base

import (
	"context"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy decides how long to wait between consecutive reconnection
// attempts and when to give up. The zero Multiplier and Jitter produce a
// fixed delay; MaxAttempts of 0 retries forever.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxAttempts  int
}

// DefaultReconnectPolicy waits a fixed 5s between attempts and never gives up
func DefaultReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		InitialDelay: config.DefaultReconnectDelay,
		MaxDelay:     config.DefaultReconnectDelay,
		Multiplier:   1.0,
	}
}

// ReconnectPolicyFromConfig builds a policy from the reliability section
func ReconnectPolicyFromConfig(rc config.ReliabilityConfig) *ReconnectPolicy {
	p := &ReconnectPolicy{
		InitialDelay: rc.ReconnectDelay,
		MaxDelay:     rc.ReconnectMaxDelay,
		Multiplier:   rc.ReconnectMultiplier,
		Jitter:       rc.ReconnectJitter,
		MaxAttempts:  rc.ReconnectMaxAttempts,
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = config.DefaultReconnectDelay
	}
	return p
}

// NewBackOff returns a fresh schedule. NextBackOff yields backoff.Stop once
// MaxAttempts delays have been handed out.
func (p *ReconnectPolicy) NewBackOff() backoff.BackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay < p.InitialDelay {
		maxDelay = p.InitialDelay
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	eb.MaxInterval = maxDelay
	eb.Multiplier = multiplier
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()

	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts))
	}
	return eb
}

// Execute runs fn until it succeeds, the policy is exhausted or ctx is done.
// Errors wrapped with backoff.Permanent stop immediately.
func (p *ReconnectPolicy) Execute(ctx context.Context, fn func() error, notify func(err error, next time.Duration)) error {
	return backoff.RetryNotify(fn, backoff.WithContext(p.NewBackOff(), ctx), notify)
}

// Clone creates a copy of the policy
func (p *ReconnectPolicy) Clone() *ReconnectPolicy {
	c := *p
	return &c
}

// WithMaxAttempts returns a new policy with updated max attempts
func (p *ReconnectPolicy) WithMaxAttempts(attempts int) *ReconnectPolicy {
	c := p.Clone()
	c.MaxAttempts = attempts
	return c
}

// WithDelay returns a new policy with updated delays
func (p *ReconnectPolicy) WithDelay(initial, max time.Duration) *ReconnectPolicy {
	c := p.Clone()
	c.InitialDelay = initial
	c.MaxDelay = max
	return c
}

// WithMultiplier returns a new policy with updated multiplier
func (p *ReconnectPolicy) WithMultiplier(multiplier float64) *ReconnectPolicy {
	c := p.Clone()
	c.Multiplier = multiplier
	return c
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
