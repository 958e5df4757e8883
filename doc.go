// Package lokitail reads log lines from Grafana Loki and writes them, one JSON
// row per line, into transactional sinks.
//
// A single source connector, loki, reads either over Loki's websocket tail
// endpoint or by re-issuing a range query over a sliding time window. Each
// payload it receives becomes exactly one sink transaction: every record is
// inserted and the transaction committed, or the whole batch is rolled back.
//
// # Architecture
//
// The code follows the connector layout used throughout the module:
//
//   - pkg/connector/core: the Source, Sink and Tx contracts and run states
//   - pkg/connector/base: shared connector plumbing (logging, metrics,
//     reconnect policy, error handling) and BufferedTx for sinks without
//     native transactions
//   - pkg/connector/registry: name based factories for sources and sinks
//   - pkg/connector/sources/loki: the tail and poll acquisition paths, the
//     payload decoder and the batch emitter
//   - pkg/connector/destinations: sinks for JSONL files, S3, GCS,
//     PostgreSQL, MySQL, Snowflake, Kafka, MongoDB and memory
//   - internal/pipeline: runs one source into one sink
//   - cmd/lokitail: the command line entry point
//
// # Quick Start
//
//	cfg := config.NewBaseConfig("loki", "source")
//	cfg.Security.Credentials = map[string]string{
//	    config.CredEndpoint: "http://localhost:3100",
//	    loki.CredQuery:      `{job="api"}`,
//	    loki.CredMode:       "tail",
//	}
//	source, err := sources.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	sink := memory.NewSink()
//	err = pipeline.New(source, sink, nil, logger).Run(ctx)
//
// Or from the command line:
//
//	LOKI_ADDR=http://localhost:3100 lokitail run --query '{job="api"}' --sink jsonl
//
// # Configuration
//
// All connectors share config.BaseConfig. The Loki connection is taken from
// LOKI_ADDR, LOKI_USERNAME and LOKI_PASSWORD unless overridden by a config
// file or flags. Sink specific settings live under security.credentials.
package lokitail
