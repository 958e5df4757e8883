package gcs

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/compressed"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("gcs", func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
		return NewGCSDestination(ctx, cfg)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "gcs",
		Type:        string(core.ConnectorTypeDestination),
		Description: "Google Cloud Storage sink writing one JSON lines object per batch",
		Settings: []string{
			CredBucket, CredProjectID, CredCredentialsFile, CredEndpoint,
			compressed.CredPrefix, compressed.CredPartition,
		},
	})
}
