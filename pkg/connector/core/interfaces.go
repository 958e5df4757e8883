package core

import (
	"context"
	"time"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource      ConnectorType = "source"
	ConnectorTypeDestination ConnectorType = "destination"
)

// DataColumn is the name of the single column every sink stores
const DataColumn = "data"

// Row is one sink row. Its only column holds the JSON encoding of a log record.
type Row struct {
	Data []byte
}

// String returns the row payload
func (r Row) String() string {
	return string(r.Data)
}

// Tx is one open sink transaction. Exactly one of Commit or Rollback ends it;
// Rollback after Commit is a no-op.
type Tx interface {
	Insert(ctx context.Context, row Row) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Sink is the transactional destination the source writes into.
type Sink interface {
	BeginTx(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}

// Source is the interface that all source connectors must implement.
// Run blocks until ctx is cancelled (returns nil) or a fatal error occurs.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
	State() RunState
	Health(ctx context.Context) *HealthStatus
}

// RunState is the lifecycle state of a running source
type RunState string

const (
	StateIdle         RunState = "idle"
	StateConnecting   RunState = "connecting"
	StateStreaming    RunState = "streaming"
	StatePolling      RunState = "polling"
	StateReconnecting RunState = "reconnecting"
	StateStopped      RunState = "stopped"
	StateFailed       RunState = "failed"
)

// IsActive returns true while the source is receiving data
func (s RunState) IsActive() bool {
	return s == StateStreaming || s == StatePolling
}

// IsTerminal returns true once Run has returned
func (s RunState) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Health status values
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthStatus represents the health status of a connector
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy", "degraded"
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
	Error     error                  `json:"error,omitempty"`
}

// IsHealthy returns true when the status is healthy
func (h *HealthStatus) IsHealthy() bool {
	return h != nil && h.Status == HealthHealthy
}
