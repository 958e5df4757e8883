package jsonl

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("jsonl", func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
		return NewJSONLDestination(cfg)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "jsonl",
		Type:        string(core.ConnectorTypeDestination),
		Description: "Appends every committed batch to a JSON lines file or stdout",
		Settings:    []string{CredPath},
	})
}
