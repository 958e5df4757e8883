package base

import (
	"sync"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"go.uber.org/zap"
)

// HealthChecker tracks a connector's health as it moves through run states.
// It is updated by the connector itself rather than by polling.
type HealthChecker struct {
	name        string
	status      *core.HealthStatus
	statusMutex sync.RWMutex
	logger      *zap.Logger
	now         func() time.Time

	transitions int64
	failures    int64
}

// NewHealthChecker creates a new health checker reporting healthy
func NewHealthChecker(name string, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		name: name,
		status: &core.HealthStatus{
			Status:    core.HealthHealthy,
			Timestamp: time.Now(),
			Details:   make(map[string]interface{}),
		},
		logger: logger.With(zap.String("component", "health_checker")),
		now:    time.Now,
	}
}

// ObserveState maps a run state onto a health status.
// Reconnecting is degraded; failed is unhealthy; everything else is healthy.
func (hc *HealthChecker) ObserveState(state core.RunState, err error) {
	status := core.HealthHealthy
	switch state {
	case core.StateReconnecting:
		status = core.HealthDegraded
	case core.StateFailed:
		status = core.HealthUnhealthy
	}

	hc.statusMutex.Lock()
	defer hc.statusMutex.Unlock()

	prev := hc.status.Status
	hc.transitions++
	hc.status.Status = status
	hc.status.Timestamp = hc.now()
	hc.status.Details["state"] = string(state)
	hc.status.Details["transitions"] = hc.transitions

	if err != nil {
		hc.failures++
		hc.status.Error = err
		hc.status.Details["last_error"] = err.Error()
		hc.status.Details["failure_count"] = hc.failures
	} else if status == core.HealthHealthy {
		hc.status.Error = nil
		delete(hc.status.Details, "last_error")
	}

	if prev != status {
		hc.logger.Debug("health changed",
			zap.String("from", prev),
			zap.String("to", status),
			zap.String("state", string(state)))
	}
}

// UpdateStatus merges details without changing the status
func (hc *HealthChecker) UpdateStatus(details map[string]interface{}) {
	hc.statusMutex.Lock()
	defer hc.statusMutex.Unlock()
	for k, v := range details {
		hc.status.Details[k] = v
	}
}

// GetStatus returns a copy of the current health status
func (hc *HealthChecker) GetStatus() *core.HealthStatus {
	hc.statusMutex.RLock()
	defer hc.statusMutex.RUnlock()

	statusCopy := &core.HealthStatus{
		Status:    hc.status.Status,
		Timestamp: hc.status.Timestamp,
		Details:   make(map[string]interface{}, len(hc.status.Details)),
		Error:     hc.status.Error,
	}
	for k, v := range hc.status.Details {
		statusCopy.Details[k] = v
	}
	return statusCopy
}

// IsHealthy returns true if the connector is healthy
func (hc *HealthChecker) IsHealthy() bool {
	hc.statusMutex.RLock()
	defer hc.statusMutex.RUnlock()
	return hc.status.Status == core.HealthHealthy
}

// FailureCount returns the number of errors observed
func (hc *HealthChecker) FailureCount() int64 {
	hc.statusMutex.RLock()
	defer hc.statusMutex.RUnlock()
	return hc.failures
}
