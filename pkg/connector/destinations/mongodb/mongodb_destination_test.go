package mongodb

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeWriter struct {
	batches      [][]interface{}
	err          error
	disconnected bool
}

func (f *fakeWriter) Ping(ctx context.Context) error { return nil }

func (f *fakeWriter) WriteBatch(ctx context.Context, docs []interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, docs)
	return nil
}

func (f *fakeWriter) Disconnect(ctx context.Context) error {
	f.disconnected = true
	return nil
}

func TestDocument(t *testing.T) {
	doc, err := Document(core.Row{Data: []byte(`{"timestamp":"1700000000000000000","line":"hi","labels":{"app":"api"}}`)})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "timestamp", Value: "1700000000000000000"},
		{Key: "line", Value: "hi"},
		{Key: "labels", Value: bson.D{{Key: "app", Value: "api"}}},
	}, doc)

	_, err = Document(core.Row{Data: []byte(`["not","an","object"]`)})
	assert.Error(t, err)
}

func TestOneWritePerBatch(t *testing.T) {
	w := &fakeWriter{}
	d := newDestination(config.NewBaseConfig("mongo", "destination"), w, "lokitail.loki_logs")
	ctx := context.Background()

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`{"line":"a"}`)}))
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`{"line":"b"}`)}))
	require.NoError(t, tx.Commit(ctx))

	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 2)

	require.NoError(t, d.Close(ctx))
	assert.True(t, w.disconnected)
}

func TestInvalidRowFailsBatch(t *testing.T) {
	w := &fakeWriter{}
	d := newDestination(config.NewBaseConfig("mongo", "destination"), w, "db.c")
	ctx := context.Background()

	tx, _ := d.BeginTx(ctx)
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`{"line":"a"}`)}))
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`42`)}))
	err := tx.Commit(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypePersistence))
	assert.Empty(t, w.batches)
}

func TestWriteFailure(t *testing.T) {
	boom := stderrors.New("NotWritablePrimary")
	d := newDestination(config.NewBaseConfig("mongo", "destination"), &fakeWriter{err: boom}, "db.c")
	ctx := context.Background()

	tx, _ := d.BeginTx(ctx)
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`{}`)}))
	assert.ErrorIs(t, tx.Commit(ctx), boom)
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		creds map[string]string
	}{
		{"missing uri", map[string]string{}},
		{"bad transactional", map[string]string{CredURI: "mongodb://localhost", CredTransactional: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewBaseConfig("mongo", "destination")
			cfg.Security.Credentials = tt.creds
			_, err := NewMongoDBDestination(context.Background(), cfg)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestMongoDBIntegration(t *testing.T) {
	uri := testutil.RequireEnv(t, "LOKITAIL_TEST_MONGODB_URI")
	ctx := testutil.TestContext(t)

	cfg := config.NewBaseConfig("mongo-it", "destination")
	cfg.Security.Credentials = map[string]string{CredURI: uri, CredCollection: "lokitail_it", CredTransactional: "false"}
	d, err := NewMongoDBDestination(ctx, cfg)
	require.NoError(t, err)
	defer d.Close(ctx)

	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, core.Row{Data: []byte(`{"line":"it"}`)}))
	require.NoError(t, tx.Commit(ctx))
}
