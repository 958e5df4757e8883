// Package destinations links every sink into the binary. Importing it for
// side effects registers them all with the connector registry.
package destinations

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"

	// Import all destination connectors to trigger init() registration
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/gcs"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/jsonl"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/kafka"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/memory"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/mongodb"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/postgresql"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/s3"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations/sqldb"
)

// Open creates the sink registered under cfg.Type
func Open(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
	return registry.CreateDestination(ctx, cfg.Type, cfg)
}
