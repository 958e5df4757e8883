package loki

import (
	"context"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// ReconnectSupervisor owns the tail subscription lifecycle. The first
// connection is attempted once; after a stream fault it waits out the
// reconnect policy and opens a fresh subscription, which also re-anchors the
// tail start at the reconnect time.
type ReconnectSupervisor struct {
	subscriber Subscriber
	policy     *base.ReconnectPolicy
	backoff    backoff.BackOff
	sleep      SleepFunc
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewReconnectSupervisor creates a supervisor. A nil sleep uses base.Sleep.
func NewReconnectSupervisor(subscriber Subscriber, policy *base.ReconnectPolicy, sleep SleepFunc, m *metrics.Collector, logger *zap.Logger) *ReconnectSupervisor {
	if policy == nil {
		policy = base.DefaultReconnectPolicy()
	}
	if sleep == nil {
		sleep = base.Sleep
	}
	if m == nil {
		m = metrics.NewCollector("loki")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconnectSupervisor{
		subscriber: subscriber,
		policy:     policy,
		backoff:    policy.NewBackOff(),
		sleep:      sleep,
		metrics:    m,
		logger:     logger,
	}
}

// Connect opens the first subscription. Failure is final.
func (s *ReconnectSupervisor) Connect(ctx context.Context) (Subscription, error) {
	sub, err := s.subscriber.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, asConnectionError(err, "initial tail connection failed")
	}
	s.backoff.Reset()
	return sub, nil
}

// Recover closes the faulted subscription and opens a new one. Failed
// reconnect attempts count as further faults and consume the policy. When the
// policy is exhausted the last fault is returned as a connection error.
// A cancelled ctx returns the context error.
func (s *ReconnectSupervisor) Recover(ctx context.Context, sub Subscription, fault error) (Subscription, error) {
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Debug("closing faulted subscription", zap.Error(err))
		}
	}

	attempt := 0
	for {
		delay := s.backoff.NextBackOff()
		if delay == backoff.Stop {
			return nil, asConnectionError(fault, "reconnect attempts exhausted").
				WithDetail("attempts", attempt)
		}

		attempt++
		s.logger.Warn("loki stream fault, reconnecting",
			zap.Error(fault),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}

		next, err := s.subscriber.Open(ctx)
		if err == nil {
			s.backoff.Reset()
			s.metrics.Reconnect(true)
			s.logger.Info("loki stream reconnected", zap.Int("attempt", attempt))
			return next, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.metrics.Reconnect(false)
		fault = err
	}
}

func asConnectionError(err error, msg string) *errors.Error {
	var e *errors.Error
	if errors.As(err, &e) && e.Type == errors.ErrorTypeConnection {
		return e
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, msg)
}
