// Package memory provides an in-process sink. It keeps committed batches in
// memory for local runs and tests, and can inject failures at begin, insert
// and commit.
package memory

import (
	"context"
	"sync"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
	"github.com/ajitpratap0/lokitail/pkg/errors"
)

func init() {
	_ = registry.RegisterDestination("memory", func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
		return NewSink(), nil
	})
	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "memory",
		Type:        string(core.ConnectorTypeDestination),
		Description: "Keeps committed batches in process memory",
	})
}

// Faults selects injected failures. The zero value injects none.
type Faults struct {
	// Begin fails every BeginTx
	Begin error
	// Insert fails the insert at index InsertAt within a transaction
	Insert   error
	InsertAt int
	// Commit fails every Commit after all inserts succeeded
	Commit error
}

// Stats counts transaction outcomes
type Stats struct {
	Begun      int
	Committed  int
	RolledBack int
}

// Sink stores committed batches in memory
type Sink struct {
	mu      sync.Mutex
	batches [][]core.Row
	stats   Stats
	faults  Faults
	closed  bool
}

// NewSink creates an empty sink
func NewSink() *Sink {
	return &Sink{}
}

// SetFaults replaces the injected failures; they apply to new transactions
func (s *Sink) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

// BeginTx opens a transaction
func (s *Sink) BeginTx(ctx context.Context) (core.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrorTypePersistence, "memory sink is closed")
	}
	if s.faults.Begin != nil {
		return nil, s.faults.Begin
	}
	s.stats.Begun++

	tx := &memoryTx{sink: s, faults: s.faults}
	tx.BufferedTx = base.NewBufferedTx(s.publish)
	return tx, nil
}

func (s *Sink) publish(ctx context.Context, rows []core.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, rows)
	s.stats.Committed++
	return nil
}

// Close marks the sink closed
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Batches returns the committed batches in commit order
func (s *Sink) Batches() [][]core.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]core.Row, len(s.batches))
	copy(out, s.batches)
	return out
}

// Rows returns every committed row in commit order
func (s *Sink) Rows() []core.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []core.Row
	for _, b := range s.batches {
		rows = append(rows, b...)
	}
	return rows
}

// Stats returns transaction counters
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type memoryTx struct {
	*base.BufferedTx
	sink     *Sink
	faults   Faults
	inserted int
	finished bool
}

func (tx *memoryTx) Insert(ctx context.Context, row core.Row) error {
	if tx.faults.Insert != nil && tx.inserted == tx.faults.InsertAt {
		return tx.faults.Insert
	}
	tx.inserted++
	return tx.BufferedTx.Insert(ctx, row)
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.faults.Commit != nil {
		return tx.faults.Commit
	}
	if err := tx.BufferedTx.Commit(ctx); err != nil {
		return err
	}
	tx.finished = true
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if err := tx.BufferedTx.Rollback(ctx); err != nil {
		return err
	}
	if !tx.finished {
		tx.finished = true
		tx.sink.mu.Lock()
		tx.sink.stats.RolledBack++
		tx.sink.mu.Unlock()
	}
	return nil
}
