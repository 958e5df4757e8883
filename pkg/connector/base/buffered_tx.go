package base

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/ajitpratap0/lokitail/pkg/connector/core"
)

// ErrTxDone is returned when a finished transaction is used again
var ErrTxDone = stderrors.New("transaction already committed or rolled back")

// PublishFunc makes a committed batch visible, all rows or none
type PublishFunc func(ctx context.Context, rows []core.Row) error

// BufferedTx is the transaction used by sinks without native transactions
// (object stores, files, memory). Rows are held in memory and handed to
// publish as one unit on Commit; Rollback drops them.
type BufferedTx struct {
	mu      sync.Mutex
	rows    []core.Row
	publish PublishFunc
	done    bool
}

// NewBufferedTx creates a transaction that publishes through publish
func NewBufferedTx(publish PublishFunc) *BufferedTx {
	return &BufferedTx{publish: publish}
}

// Insert buffers a copy of row
func (tx *BufferedTx) Insert(ctx context.Context, row core.Row) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	data := make([]byte, len(row.Data))
	copy(data, row.Data)
	tx.rows = append(tx.rows, core.Row{Data: data})
	return nil
}

// Commit publishes the buffered rows. An empty transaction publishes nothing.
func (tx *BufferedTx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	rows := tx.rows
	tx.rows = nil
	if len(rows) == 0 {
		return nil
	}
	return tx.publish(ctx, rows)
}

// Rollback discards the buffered rows. It is a no-op on a finished transaction.
func (tx *BufferedTx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.done = true
	tx.rows = nil
	return nil
}

// Len returns the number of buffered rows
func (tx *BufferedTx) Len() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.rows)
}
