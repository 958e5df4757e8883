package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(creds map[string]string) *config.BaseConfig {
	cfg := config.NewBaseConfig("bus", "destination")
	cfg.Security.Credentials = map[string]string{CredBrokers: "localhost:9092", CredTopic: "loki"}
	for k, v := range creds {
		cfg.Security.Credentials[k] = v
	}
	return cfg
}

func newMockDestination(t *testing.T, creds map[string]string) (*KafkaDestination, *mocks.SyncProducer) {
	t.Helper()
	cfg := testConfig(creds)
	sc, err := buildSaramaConfig(cfg)
	require.NoError(t, err)
	p := mocks.NewSyncProducer(t, sc)
	d, err := newDestination(cfg, p)
	require.NoError(t, err)
	return d, p
}

func insertAll(t *testing.T, tx core.Tx, lines ...string) {
	t.Helper()
	for _, l := range lines {
		require.NoError(t, tx.Insert(context.Background(), core.Row{Data: []byte(l)}))
	}
}

func TestTransactionalCommit(t *testing.T) {
	d, p := newMockDestination(t, nil)
	defer d.Close(context.Background())
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"line":"a"}` {
			return stderrors.New("unexpected value " + string(val))
		}
		return nil
	})
	p.ExpectSendMessageAndSucceed()

	ctx := context.Background()
	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsTransactional())
	assert.NotZero(t, p.TxnStatus()&sarama.ProducerTxnFlagInTransaction)

	insertAll(t, tx, `{"line":"a"}`, `{"line":"b"}`)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx))
	assert.Zero(t, p.TxnStatus()&sarama.ProducerTxnFlagInTransaction)

	// the lock is released, a second batch can begin
	tx, err = d.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
}

func TestSendFailureAborts(t *testing.T) {
	d, p := newMockDestination(t, nil)
	defer d.Close(context.Background())
	p.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	ctx := context.Background()
	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	insertAll(t, tx, `{"line":"a"}`)

	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.Zero(t, p.TxnStatus()&sarama.ProducerTxnFlagInTransaction)
	assert.ErrorIs(t, tx.Insert(ctx, core.Row{Data: []byte(`{}`)}), base.ErrTxDone)
}

func TestNonTransactional(t *testing.T) {
	d, p := newMockDestination(t, map[string]string{CredTransactional: "false"})
	defer d.Close(context.Background())
	p.ExpectSendMessageAndSucceed()

	ctx := context.Background()
	tx, err := d.BeginTx(ctx)
	require.NoError(t, err)
	assert.False(t, p.IsTransactional())
	insertAll(t, tx, `{}`)
	require.NoError(t, tx.Commit(ctx))
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name  string
		creds map[string]string
	}{
		{"missing brokers", map[string]string{CredBrokers: " , "}},
		{"missing topic", map[string]string{CredTopic: ""}},
		{"bad version", map[string]string{CredVersion: "banana"}},
		{"bad sasl", map[string]string{CredSASLMechanism: "GSSAPI-ish"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.creds)
			_, _, terr := target(cfg)
			_, cerr := buildSaramaConfig(cfg)
			err := terr
			if err == nil {
				err = cerr
			}
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "%v", err)
		})
	}
}

func TestSaramaConfig(t *testing.T) {
	cfg := testConfig(map[string]string{CredSASLMechanism: "scram-sha-512", CredSASLUser: "u", CredSASLPassword: "p"})
	cfg.Advanced.CompressionAlgorithm = "zstd"
	sc, err := buildSaramaConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "lokitail-bus", sc.Producer.Transaction.ID)
	assert.True(t, sc.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, sc.Producer.Compression)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), sc.Net.SASL.Mechanism)
	require.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)

	client := sc.Net.SASL.SCRAMClientGeneratorFunc()
	require.NoError(t, client.Begin("u", "p", ""))
	first, err := client.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=u")
	assert.False(t, client.Done())
}
