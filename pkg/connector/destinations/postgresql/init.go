package postgresql

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/sqltable"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("postgresql", func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
		return NewPostgreSQLDestination(ctx, cfg)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "postgresql",
		Type:        string(core.ConnectorTypeDestination),
		Description: "PostgreSQL sink, one JSONB row per record and one transaction per batch",
		Settings:    []string{sqltable.CredDSN, sqltable.CredTable, sqltable.CredColumn, sqltable.CredCreateTable},
	})
}
