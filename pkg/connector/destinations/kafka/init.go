package kafka

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("kafka", func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
		return NewKafkaDestination(ctx, cfg)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "kafka",
		Type:        string(core.ConnectorTypeDestination),
		Description: "Kafka sink, one message per record and one producer transaction per batch",
		Settings: []string{
			CredBrokers, CredTopic, CredVersion, CredTransactional, CredTransactionalID,
			CredSASLMechanism, CredSASLUser, CredSASLPassword, CredTLS,
		},
	})
}
