// Package base provides the BaseConnector embedded by the Loki source and the
// sinks. It owns the pieces every connector needs: a named logger, run state
// with health tracking, prometheus metrics, the error policy and the
// reconnect policy.
//
// # Usage
//
//	type MySink struct {
//	    *base.BaseConnector
//	    // sink-specific fields
//	}
//
//	func NewMySink(cfg *config.BaseConfig) *MySink {
//	    return &MySink{
//	        BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
//	    }
//	}
//
// Run state changes go through SetState, which keeps the health status and
// the run state gauge in step.
package base

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/logger"
	"github.com/ajitpratap0/lokitail/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// defaultConnectAttempts bounds sink connection retries when the
// reliability section leaves reconnect_max_attempts unbounded
const defaultConnectAttempts = 3

// BaseConnector provides common functionality for all connectors
type BaseConnector struct {
	name          string
	connectorType core.ConnectorType
	version       string
	config        *config.BaseConfig
	logger        *zap.Logger

	state      core.RunState
	stateMutex sync.RWMutex

	healthChecker    *HealthChecker
	metricsCollector *metrics.Collector
	errorHandler     *ErrorHandler
	reconnectPolicy  *ReconnectPolicy
}

// NewBaseConnector creates a new base connector. A nil cfg uses defaults.
func NewBaseConnector(name string, connectorType core.ConnectorType, version string, cfg *config.BaseConfig) *BaseConnector {
	if cfg == nil {
		cfg = config.NewBaseConfig(name, string(connectorType))
	}
	log := logger.Get().With(zap.String("connector", name), zap.String("connector_type", string(connectorType)))

	return &BaseConnector{
		name:             name,
		connectorType:    connectorType,
		version:          version,
		config:           cfg,
		logger:           log,
		state:            core.StateIdle,
		healthChecker:    NewHealthChecker(name, log),
		metricsCollector: metrics.NewCollector(name),
		errorHandler:     NewErrorHandler(log),
		reconnectPolicy:  ReconnectPolicyFromConfig(cfg.Reliability),
	}
}

// Name returns the connector name
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns the connector type
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// GetConfig returns the connector configuration
func (bc *BaseConnector) GetConfig() *config.BaseConfig {
	return bc.config
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// SetLogger replaces the connector logger, mainly for tests
func (bc *BaseConnector) SetLogger(l *zap.Logger) {
	bc.logger = l.With(zap.String("connector", bc.name))
	bc.errorHandler = NewErrorHandler(bc.logger)
}

// GetMetricsCollector returns the metrics collector
func (bc *BaseConnector) GetMetricsCollector() *metrics.Collector {
	return bc.metricsCollector
}

// GetErrorHandler returns the error handler
func (bc *BaseConnector) GetErrorHandler() *ErrorHandler {
	return bc.errorHandler
}

// GetReconnectPolicy returns the reconnect policy
func (bc *BaseConnector) GetReconnectPolicy() *ReconnectPolicy {
	return bc.reconnectPolicy
}

// SetReconnectPolicy replaces the reconnect policy
func (bc *BaseConnector) SetReconnectPolicy(p *ReconnectPolicy) {
	bc.reconnectPolicy = p
}

// State returns the current run state
func (bc *BaseConnector) State() core.RunState {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()
	return bc.state
}

// SetState moves the connector to state, updating health and metrics
func (bc *BaseConnector) SetState(state core.RunState) {
	bc.transition(state, nil)
}

// Fail moves the connector to StateFailed, recording err
func (bc *BaseConnector) Fail(err error) {
	bc.transition(core.StateFailed, err)
}

func (bc *BaseConnector) transition(state core.RunState, err error) {
	bc.stateMutex.Lock()
	prev := bc.state
	bc.state = state
	bc.metricsCollector.SetState(string(state))
	bc.stateMutex.Unlock()

	bc.healthChecker.ObserveState(state, err)
	if prev != state {
		bc.logger.Debug("run state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(state)))
	}
}

// Health returns the current health status
func (bc *BaseConnector) Health(ctx context.Context) *core.HealthStatus {
	return bc.healthChecker.GetStatus()
}

// IsHealthy returns true if the connector is healthy
func (bc *BaseConnector) IsHealthy() bool {
	return bc.healthChecker.IsHealthy()
}

// ConnectWithRetry runs connect until it succeeds, using the reconnect policy
// bounded to a few attempts. Errors that ShouldRetryConnect rejects fail at once.
func (bc *BaseConnector) ConnectWithRetry(ctx context.Context, what string, connect func(ctx context.Context) error) error {
	policy := bc.reconnectPolicy
	if policy.MaxAttempts == 0 {
		policy = policy.WithMaxAttempts(defaultConnectAttempts)
	}

	start := time.Now()
	err := policy.Execute(ctx, func() error {
		err := connect(ctx)
		if err != nil && !ShouldRetryConnect(err) {
			return backoff.Permanent(err)
		}
		return err
	}, func(err error, next time.Duration) {
		bc.logger.Warn("connect failed, retrying",
			zap.String("target", what),
			zap.Error(err),
			zap.Duration("retry_in", next))
	})
	if err != nil {
		return err
	}

	bc.logger.Info("connected",
		zap.String("target", what),
		zap.Duration("took", time.Since(start)))
	return nil
}
