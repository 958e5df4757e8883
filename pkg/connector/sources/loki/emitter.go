package loki

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/json"
	"github.com/ajitpratap0/lokitail/pkg/metrics"
	"github.com/ajitpratap0/lokitail/pkg/observability"
	"go.uber.org/zap"
)

// BatchEmitter writes the records of one payload into the sink as a single
// transaction
type BatchEmitter struct {
	tracer  *observability.ConnectorTracer
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewBatchEmitter creates an emitter. Nil collaborators are replaced with
// no-op defaults.
func NewBatchEmitter(tracer *observability.ConnectorTracer, m *metrics.Collector, logger *zap.Logger) *BatchEmitter {
	if tracer == nil {
		tracer = observability.NewConnectorTracer("source", "loki")
	}
	if m == nil {
		m = metrics.NewCollector("loki")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchEmitter{tracer: tracer, metrics: m, logger: logger}
}

// EncodeRow renders a record as the single-column sink row
func EncodeRow(r NormalizedRecord) (core.Row, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return core.Row{}, err
	}
	return core.Row{Data: data}, nil
}

// Emit inserts records inside one transaction and commits it. An empty batch
// opens no transaction. The first failing insert rolls the transaction back
// and is returned as a persistence error; so is a failed begin or commit.
// A cancelled ctx rolls back and returns the context error.
func (e *BatchEmitter) Emit(ctx context.Context, sink core.Sink, records []NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}

	return e.tracer.TraceBatch(ctx, len(records), "emit", func(ctx context.Context) error {
		timer := metrics.NewTimer("emit")

		tx, err := sink.BeginTx(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypePersistence, "begin transaction")
		}

		committed := false
		defer func() {
			if committed {
				return
			}
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				e.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			e.metrics.BatchRolledBack()
		}()

		for i, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := EncodeRow(r)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypePersistence, "encode row").WithDetail("index", i)
			}
			if err := tx.Insert(ctx, row); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.Wrap(err, errors.ErrorTypePersistence, "insert row").
					WithDetail("index", i).
					WithDetail("batch_size", len(records))
			}
		}

		if err := tx.Commit(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, errors.ErrorTypePersistence, "commit transaction").
				WithDetail("batch_size", len(records))
		}
		committed = true

		e.metrics.RecordsEmitted(len(records))
		e.metrics.BatchCommitted(timer.Stop())
		e.logger.Debug("batch committed", zap.Int("records", len(records)))
		return nil
	})
}
