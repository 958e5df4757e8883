// Package jsonl provides a sink that appends committed batches to a JSON
// lines file, or to stdout when no path is configured.
package jsonl

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/compressed"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/json"
	"go.uber.org/zap"
)

// CredPath is the output file; "" or "-" writes to stdout
const CredPath = "path"

const defaultBufferSize = 64 * 1024

// JSONLDestination appends rows as newline-delimited JSON. With compression
// enabled each batch is written as one compressed frame, which gzip and zstd
// readers concatenate transparently.
type JSONLDestination struct {
	*base.BaseConnector

	mu      sync.Mutex
	out     io.Writer
	closer  io.Closer
	writer  *bufio.Writer
	encoder *compressed.ObjectEncoder
	path    string
	written int64
}

// NewJSONLDestination opens the output in append mode
func NewJSONLDestination(cfg *config.BaseConfig) (*JSONLDestination, error) {
	encoder, err := compressed.NewObjectEncoder(cfg)
	if err != nil {
		return nil, err
	}

	path := cfg.Security.Credential(CredPath, "-")
	d := &JSONLDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		encoder:       encoder,
		path:          path,
	}

	if path == "-" {
		d.out = os.Stdout
	} else {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "creating output directory")
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "opening output file").WithDetail("path", path)
		}
		d.out = f
		d.closer = f
	}
	d.writer = bufio.NewWriterSize(d.out, defaultBufferSize)
	return d, nil
}

// NewWriterDestination writes to w; used for tests and embedding
func NewWriterDestination(cfg *config.BaseConfig, w io.Writer) (*JSONLDestination, error) {
	encoder, err := compressed.NewObjectEncoder(cfg)
	if err != nil {
		return nil, err
	}
	return &JSONLDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		out:           w,
		writer:        bufio.NewWriterSize(w, defaultBufferSize),
		encoder:       encoder,
		path:          "-",
	}, nil
}

// BeginTx opens a buffered transaction appended to the output on commit
func (d *JSONLDestination) BeginTx(ctx context.Context) (core.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil, errors.New(errors.ErrorTypePersistence, "jsonl sink is closed")
	}
	return base.NewBufferedTx(d.append), nil
}

func (d *JSONLDestination) append(ctx context.Context, rows []core.Row) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return errors.New(errors.ErrorTypePersistence, "jsonl sink is closed")
	}

	var err error
	if d.encoder.Compressor().Extension() == "" {
		for _, r := range rows {
			if err = json.WriteRaw(d.writer, r.Data); err != nil {
				break
			}
		}
	} else {
		var frame []byte
		if frame, err = d.encoder.Encode(rows); err == nil {
			_, err = d.writer.Write(frame)
		}
	}
	if err == nil {
		err = d.writer.Flush()
	}
	if err != nil {
		// a partial write cannot be taken back, drop what is still buffered
		d.writer.Reset(d.out)
		return errors.Wrap(err, errors.ErrorTypePersistence, "appending batch").WithDetail("path", d.path)
	}

	d.written += int64(len(rows))
	d.GetLogger().Debug("batch appended", zap.String("path", d.path), zap.Int("records", len(rows)))
	return nil
}

// Written returns the number of rows appended so far
func (d *JSONLDestination) Written() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Close flushes and closes the output file
func (d *JSONLDestination) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return nil
	}
	err := d.writer.Flush()
	d.writer = nil
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	d.SetState(core.StateStopped)
	return err
}
