package mongodb

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("mongodb", func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
		return NewMongoDBDestination(ctx, cfg)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "mongodb",
		Type:        string(core.ConnectorTypeDestination),
		Description: "MongoDB sink, one document per record and one session transaction per batch",
		Settings:    []string{CredURI, CredDatabase, CredCollection, CredTransactional},
	})
}
