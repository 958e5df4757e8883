package s3

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/compressed"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("s3", func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
		return NewS3Destination(ctx, cfg)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "s3",
		Type:        string(core.ConnectorTypeDestination),
		Description: "Amazon S3 (or S3 compatible) sink writing one JSON lines object per batch",
		Settings: []string{
			CredBucket, CredRegion, CredEndpoint, compressed.CredPrefix, compressed.CredPartition,
			CredAccessKeyID, CredSecretAccessKey, CredSessionToken,
		},
	})
}
