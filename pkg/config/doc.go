// Package config provides configuration management for lokitail.
//
// # Connector configuration
//
// Every connector, the Loki source and each sink, is configured through a
// BaseConfig. Sink-specific settings (DSNs, bucket names, topics) live in
// Security.Credentials so that one YAML shape covers all of them:
//
//	name: archive
//	type: s3
//	security:
//	  credentials:
//	    bucket: my-logs
//	    region: ${AWS_REGION}
//	advanced:
//	  compression_algorithm: zstd
//
// ${VAR_NAME} references are substituted from the environment by Load.
//
// # Loki connection
//
// LokiConnection carries the endpoint and optional basic-auth credentials.
// It is built once at startup, usually from the environment, and then
// refined with set-if-present overrides:
//
//	conn := config.LokiConnectionFromEnv(os.LookupEnv).
//		WithEndpoint(flagEndpoint). // nil keeps LOKI_ADDR
//		WithUser(flagUser)
//
// An override with nil never clears a value that is already set. The
// endpoint is only validated when a connection is attempted.
package config
