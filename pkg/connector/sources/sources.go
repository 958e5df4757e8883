// Package sources links every source into the binary. Importing it for
// side effects registers them all with the connector registry.
package sources

import (
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"

	// Import all source connectors to trigger init() registration
	_ "github.com/ajitpratap0/lokitail/pkg/connector/sources/loki"
)

// Open creates the source registered under cfg.Type
func Open(cfg *config.BaseConfig) (core.Source, error) {
	return registry.CreateSource(cfg.Type, cfg)
}
