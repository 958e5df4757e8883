package sqldb

import (
	"context"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/sqltable"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

func init() {
	for _, dialect := range []Dialect{MySQL, Snowflake} {
		dialect := dialect
		_ = registry.RegisterDestination(dialect.Name, func(ctx context.Context, cfg *config.BaseConfig) (core.Sink, error) {
			return NewSQLDestination(ctx, cfg, dialect)
		})
		_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
			Name:        dialect.Name,
			Type:        string(core.ConnectorTypeDestination),
			Description: dialect.Name + " sink, one row per record and one transaction per batch",
			Settings:    []string{sqltable.CredDSN, sqltable.CredTable, sqltable.CredColumn, sqltable.CredCreateTable},
		})
	}
}
