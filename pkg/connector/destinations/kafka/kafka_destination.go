// Package kafka provides a sink that publishes every record as one Kafka
// message. With a transactional id configured (the default) each batch is
// one Kafka transaction, so consumers reading committed messages never see a
// partial batch.
package kafka

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"go.uber.org/zap"
)

// Credential keys
const (
	CredBrokers         = "brokers"
	CredTopic           = "topic"
	CredVersion         = "version"
	CredTransactional   = "transactional"
	CredTransactionalID = "transactional_id"
	CredSASLMechanism   = "sasl_mechanism"
	CredSASLUser        = "sasl_user"
	CredSASLPassword    = "sasl_password"
	CredTLS             = "tls"
)

const (
	defaultVersion            = "2.8.0"
	defaultTransactionTimeout = time.Minute
	defaultRetryMax           = 5
)

// producer is the part of sarama.SyncProducer the sink uses
type producer interface {
	SendMessages(msgs []*sarama.ProducerMessage) error
	IsTransactional() bool
	BeginTxn() error
	CommitTxn() error
	AbortTxn() error
	Close() error
}

// KafkaDestination is the Kafka sink
type KafkaDestination struct {
	*base.BaseConnector

	topic    string
	producer producer

	// one open transaction at a time per producer
	txMu sync.Mutex
}

// NewKafkaDestination connects a sync producer to the brokers
func NewKafkaDestination(ctx context.Context, cfg *config.BaseConfig) (*KafkaDestination, error) {
	brokers, topic, err := target(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	d := &KafkaDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		topic:         topic,
	}
	err = d.ConnectWithRetry(ctx, strings.Join(brokers, ","), func(ctx context.Context) error {
		p, err := sarama.NewSyncProducer(brokers, sc)
		if err != nil {
			return err
		}
		d.producer = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}
	return d, nil
}

func newDestination(cfg *config.BaseConfig, p producer) (*KafkaDestination, error) {
	_, topic, err := target(cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		topic:         topic,
		producer:      p,
	}, nil
}

func target(cfg *config.BaseConfig) ([]string, string, error) {
	var brokers []string
	for _, b := range strings.Split(cfg.Security.Credential(CredBrokers, ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, "", errors.New(errors.ErrorTypeConfig, "kafka brokers are required")
	}
	topic := cfg.Security.Credential(CredTopic, "")
	if topic == "" {
		return nil, "", errors.New(errors.ErrorTypeConfig, "kafka topic is required")
	}
	return brokers, topic, nil
}

func buildSaramaConfig(cfg *config.BaseConfig) (*sarama.Config, error) {
	sec := &cfg.Security
	sc := sarama.NewConfig()
	sc.ClientID = "lokitail-" + cfg.Name

	version, err := sarama.ParseKafkaVersion(sec.Credential(CredVersion, defaultVersion))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka version")
	}
	sc.Version = version

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = defaultRetryMax
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if cfg.Timeouts.Connection > 0 {
		sc.Net.DialTimeout = cfg.Timeouts.Connection
	}

	switch cfg.Advanced.CompressionAlgorithm {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	transactional, err := strconv.ParseBool(sec.Credential(CredTransactional, "true"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid transactional flag")
	}
	if transactional {
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
		sc.Producer.Transaction.ID = sec.Credential(CredTransactionalID, "lokitail-"+cfg.Name)
		sc.Producer.Transaction.Timeout = defaultTransactionTimeout
	}

	if sec.Credential(CredTLS, "") == "true" {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{InsecureSkipVerify: sec.TLSSkipVerify} // #nosec G402 -- opt-in
	}
	if mech := sec.Credential(CredSASLMechanism, ""); mech != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = sec.Credential(CredSASLUser, "")
		sc.Net.SASL.Password = sec.Credential(CredSASLPassword, "")
		switch strings.ToUpper(mech) {
		case "PLAIN":
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha256Generator}
			}
		case "SCRAM-SHA-512":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha512Generator}
			}
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported sasl mechanism %q", mech)
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka producer config")
	}
	return sc, nil
}

// BeginTx starts a Kafka transaction. It blocks while another transaction
// of this sink is open.
func (d *KafkaDestination) BeginTx(ctx context.Context) (core.Tx, error) {
	d.txMu.Lock()
	if d.producer.IsTransactional() {
		if err := d.producer.BeginTxn(); err != nil {
			d.txMu.Unlock()
			return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to begin kafka transaction")
		}
	}
	return &kafkaTx{d: d}, nil
}

// Close closes the producer, aborting nothing; an open transaction times out
// on the broker
func (d *KafkaDestination) Close(ctx context.Context) error {
	d.SetState(core.StateStopped)
	return d.producer.Close()
}

type kafkaTx struct {
	d    *KafkaDestination
	msgs []*sarama.ProducerMessage
	done bool
}

func (t *kafkaTx) Insert(ctx context.Context, row core.Row) error {
	if t.done {
		return base.ErrTxDone
	}
	value := make([]byte, len(row.Data))
	copy(value, row.Data)
	t.msgs = append(t.msgs, &sarama.ProducerMessage{
		Topic:   t.d.topic,
		Value:   sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{{Key: []byte("source"), Value: []byte("loki")}},
	})
	return nil
}

// Commit sends the buffered messages and commits the transaction. On a send
// failure the transaction is aborted.
func (t *kafkaTx) Commit(ctx context.Context) error {
	if t.done {
		return base.ErrTxDone
	}
	defer t.finish()

	p := t.d.producer
	if len(t.msgs) > 0 {
		if err := p.SendMessages(t.msgs); err != nil {
			t.abort()
			return err
		}
	}
	if p.IsTransactional() {
		if err := p.CommitTxn(); err != nil {
			t.abort()
			return err
		}
	}
	t.d.GetLogger().Debug("batch published", zap.String("topic", t.d.topic), zap.Int("messages", len(t.msgs)))
	return nil
}

func (t *kafkaTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	defer t.finish()
	t.abort()
	return nil
}

func (t *kafkaTx) abort() {
	if !t.d.producer.IsTransactional() {
		return
	}
	if err := t.d.producer.AbortTxn(); err != nil {
		t.d.GetLogger().Warn("abort kafka transaction", zap.Error(err))
	}
}

func (t *kafkaTx) finish() {
	t.done = true
	t.msgs = nil
	t.d.txMu.Unlock()
}
