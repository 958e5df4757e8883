// Package pipeline runs one source into one sink. It owns the sink for the
// duration of the run, closes it when the source returns, and counts what
// the sink committed.
//
// # Basic Usage
//
//	p := pipeline.New(source, sink, nil, logger)
//	err := p.Run(ctx) // blocks until ctx is cancelled or a fatal error
//	stats := p.Stats()
package pipeline

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"go.uber.org/zap"
)

// Config tunes the pipeline
type Config struct {
	// ShutdownTimeout bounds closing the sink after the source returned
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default pipeline settings
func DefaultConfig() *Config {
	return &Config{ShutdownTimeout: 5 * time.Second}
}

// Stats summarizes a run
type Stats struct {
	Duration         time.Duration
	RecordsCommitted int64
	BatchesCommitted int64
	BatchesFailed    int64
	State            core.RunState
}

// RecordsPerSecond is the committed throughput of the run
func (s Stats) RecordsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.RecordsCommitted) / s.Duration.Seconds()
}

// Pipeline connects a source to a sink
type Pipeline struct {
	source core.Source
	sink   *countingSink
	config *Config
	logger *zap.Logger

	once     sync.Once
	mu       sync.Mutex
	started  time.Time
	finished time.Time
}

// New creates a pipeline. A nil config uses DefaultConfig.
func New(source core.Source, sink core.Sink, cfg *Config, logger *zap.Logger) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source: source,
		sink:   &countingSink{Sink: sink},
		config: cfg,
		logger: logger,
	}
}

// Run runs the source until it returns and then closes the sink. A source
// stopped by ctx returns nil; the sink close error is joined to the result.
// A pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) error {
	err := stderrors.New("pipeline already ran")
	p.once.Do(func() {
		p.mu.Lock()
		p.started = time.Now()
		p.mu.Unlock()
		p.logger.Info("pipeline started", zap.String("source", p.source.Name()))

		err = p.source.Run(ctx, p.sink)

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ShutdownTimeout)
		defer cancel()
		if cerr := p.sink.Close(cctx); cerr != nil {
			p.logger.Warn("failed to close sink", zap.Error(cerr))
			err = stderrors.Join(err, cerr)
		}
		p.mu.Lock()
		p.finished = time.Now()
		p.mu.Unlock()

		stats := p.Stats()
		p.logger.Info("pipeline finished",
			zap.Duration("duration", stats.Duration),
			zap.Int64("records_committed", stats.RecordsCommitted),
			zap.Int64("batches_committed", stats.BatchesCommitted),
			zap.Int64("batches_failed", stats.BatchesFailed),
			zap.Float64("records_per_second", stats.RecordsPerSecond()),
			zap.String("state", string(stats.State)),
			zap.Error(err))
	})
	return err
}

// Stats returns the counters so far; safe to call while running
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var d time.Duration
	switch {
	case p.started.IsZero():
	case p.finished.IsZero():
		d = time.Since(p.started)
	default:
		d = p.finished.Sub(p.started)
	}
	return Stats{
		Duration:         d,
		RecordsCommitted: p.sink.records.Load(),
		BatchesCommitted: p.sink.batches.Load(),
		BatchesFailed:    p.sink.failed.Load(),
		State:            p.source.State(),
	}
}

// countingSink counts rows of committed transactions
type countingSink struct {
	core.Sink
	records atomic.Int64
	batches atomic.Int64
	failed  atomic.Int64
}

func (s *countingSink) BeginTx(ctx context.Context) (core.Tx, error) {
	tx, err := s.Sink.BeginTx(ctx)
	if err != nil {
		s.failed.Add(1)
		return nil, err
	}
	return &countingTx{Tx: tx, sink: s}, nil
}

// countingTx counts each batch once: committed, or failed on a failed
// commit or a rollback
type countingTx struct {
	core.Tx
	sink *countingSink
	rows int64
	done bool
}

func (t *countingTx) Insert(ctx context.Context, row core.Row) error {
	if err := t.Tx.Insert(ctx, row); err != nil {
		return err
	}
	t.rows++
	return nil
}

func (t *countingTx) Commit(ctx context.Context) error {
	err := t.Tx.Commit(ctx)
	if t.done {
		return err
	}
	t.done = true
	if err != nil {
		t.sink.failed.Add(1)
		return err
	}
	t.sink.records.Add(t.rows)
	t.sink.batches.Add(1)
	return nil
}

func (t *countingTx) Rollback(ctx context.Context) error {
	err := t.Tx.Rollback(ctx)
	if !t.done {
		t.done = true
		t.sink.failed.Add(1)
	}
	return err
}
