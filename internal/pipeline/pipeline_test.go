package pipeline

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/memory"
	"github.com/ajitpratap0/lokitail/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchSource commits each of its batches and then waits for ctx
type batchSource struct {
	batches [][]string
	state   core.RunState
	runs    int
}

func (s *batchSource) Name() string                                 { return "batches" }
func (s *batchSource) State() core.RunState                         { return s.state }
func (s *batchSource) Health(ctx context.Context) *core.HealthStatus { return nil }

func (s *batchSource) Run(ctx context.Context, sink core.Sink) error {
	s.runs++
	for _, b := range s.batches {
		tx, err := sink.BeginTx(ctx)
		if err != nil {
			s.state = core.StateFailed
			return err
		}
		for _, line := range b {
			if err := tx.Insert(ctx, core.Row{Data: []byte(line)}); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			s.state = core.StateFailed
			return err
		}
	}
	<-ctx.Done()
	s.state = core.StateStopped
	return nil
}

func TestRunCountsAndClosesSink(t *testing.T) {
	src := &batchSource{batches: [][]string{{`{"a":1}`, `{"a":2}`}, {`{"a":3}`}}}
	sink := memory.NewSink()
	p := New(src, sink, nil, testutil.TestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	testutil.AssertEventually(t, func() bool { return p.Stats().BatchesCommitted == 2 }, 2*time.Second, "two batches committed")
	cancel()
	require.NoError(t, <-done)

	stats := p.Stats()
	assert.EqualValues(t, 3, stats.RecordsCommitted)
	assert.Equal(t, core.StateStopped, stats.State)
	assert.Greater(t, stats.Duration, time.Duration(0))

	_, err := sink.BeginTx(context.Background())
	assert.Error(t, err, "sink is closed after the run")

	assert.Error(t, p.Run(context.Background()), "a pipeline runs once")
	assert.Equal(t, 1, src.runs)
}

func TestSinkFailureIsReturned(t *testing.T) {
	boom := stderrors.New("disk full")
	sink := memory.NewSink()
	sink.SetFaults(memory.Faults{Commit: boom})
	src := &batchSource{batches: [][]string{{`{}`}}}
	p := New(src, sink, nil, nil)

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, p.Stats().BatchesFailed)
	assert.Zero(t, p.Stats().RecordsCommitted)
}

func TestRolledBackBatchCountsAsFailed(t *testing.T) {
	boom := stderrors.New("row rejected")
	sink := memory.NewSink()
	sink.SetFaults(memory.Faults{Insert: boom, InsertAt: 1})
	src := &batchSource{batches: [][]string{{`{"a":1}`, `{"a":2}`, `{"a":3}`}}}
	p := New(src, sink, nil, nil)

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.BatchesFailed)
	assert.Zero(t, stats.BatchesCommitted)
	assert.Zero(t, stats.RecordsCommitted)
	assert.Equal(t, 1, sink.Stats().RolledBack)
}

func TestFailedCommitThenRollbackCountsOnce(t *testing.T) {
	boom := stderrors.New("commit rejected")
	sink := memory.NewSink()
	sink.SetFaults(memory.Faults{Commit: boom})
	cs := &countingSink{Sink: sink}

	ctx := context.Background()
	tx, err := cs.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`{}`)}))
	assert.ErrorIs(t, tx.Commit(ctx), boom)
	require.NoError(t, tx.Rollback(ctx))

	assert.EqualValues(t, 1, cs.failed.Load())
	assert.Zero(t, cs.batches.Load())
}

func TestRecordsPerSecond(t *testing.T) {
	assert.Zero(t, Stats{}.RecordsPerSecond())
	assert.InDelta(t, 50.0, Stats{Duration: 2 * time.Second, RecordsCommitted: 100}.RecordsPerSecond(), 0.001)
}
