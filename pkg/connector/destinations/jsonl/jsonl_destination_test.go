package jsonl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/lokitail/pkg/compression"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(t *testing.T, sink core.Sink, lines ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := sink.BeginTx(ctx)
	require.NoError(t, err)
	for _, l := range lines {
		require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(l)}))
	}
	require.NoError(t, tx.Commit(ctx))
}

func TestAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "loki.jsonl")
	cfg := config.NewBaseConfig("file", "destination")
	cfg.Security.Credentials[CredPath] = path

	d, err := NewJSONLDestination(cfg)
	require.NoError(t, err)
	commit(t, d, `{"line":"a"}`, `{"line":"b"}`)
	commit(t, d, `{"line":"c"}`)
	require.NoError(t, d.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"line\":\"a\"}\n{\"line\":\"b\"}\n{\"line\":\"c\"}\n", string(data))
	assert.EqualValues(t, 3, d.Written())
}

func TestRollbackWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	d, err := NewWriterDestination(config.NewBaseConfig("w", "destination"), &buf)
	require.NoError(t, err)

	ctx := context.Background()
	tx, _ := d.BeginTx(ctx)
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`{}`)}))
	require.NoError(t, tx.Rollback(ctx))
	assert.Zero(t, buf.Len())
}

func TestCompressedFrames(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.NewBaseConfig("w", "destination")
	cfg.Advanced.CompressionAlgorithm = "gzip"
	d, err := NewWriterDestination(cfg, &buf)
	require.NoError(t, err)

	commit(t, d, `{"line":"a"}`)

	c, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Gzip, Level: compression.Default})
	require.NoError(t, err)
	plain, err := c.Decompress(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "{\"line\":\"a\"}\n", string(plain))
}

func TestClosedSinkRejectsTransactions(t *testing.T) {
	d, err := NewWriterDestination(config.NewBaseConfig("w", "destination"), &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))

	_, err = d.BeginTx(context.Background())
	assert.Error(t, err)
}
