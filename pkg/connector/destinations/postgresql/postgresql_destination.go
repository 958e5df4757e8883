// Package postgresql provides a sink that inserts every record into a
// PostgreSQL table inside one database transaction per batch.
package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/sqltable"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	defaultMaxConns        = 4
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
)

// pool is the part of *pgxpool.Pool the sink uses
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgreSQLDestination is the PostgreSQL sink
type PostgreSQLDestination struct {
	*base.BaseConnector

	settings  sqltable.Settings
	pool      pool
	insertSQL string
}

// NewPostgreSQLDestination connects the pool and creates the table when
// create_table is set
func NewPostgreSQLDestination(ctx context.Context, cfg *config.BaseConfig) (*PostgreSQLDestination, error) {
	settings, err := sqltable.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(settings.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}
	poolConfig.MaxConns = defaultMaxConns
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	if cfg.Timeouts.Connection > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.Timeouts.Connection
	}

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	d := newDestination(cfg, settings, p)
	if err := d.open(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return d, nil
}

func newDestination(cfg *config.BaseConfig, settings sqltable.Settings, p pool) *PostgreSQLDestination {
	return &PostgreSQLDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		settings:      settings,
		pool:          p,
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1)",
			settings.Qualified(sqltable.DoubleQuote), sqltable.DoubleQuote(settings.Column)),
	}
}

func (d *PostgreSQLDestination) open(ctx context.Context) error {
	if err := d.ConnectWithRetry(ctx, "postgresql", d.pool.Ping); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to postgresql")
	}
	if !d.settings.CreateTable {
		return nil
	}

	if d.settings.Schema != "" {
		if _, err := d.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+sqltable.DoubleQuote(d.settings.Schema)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create schema")
		}
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	%s JSONB NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, d.settings.Qualified(sqltable.DoubleQuote), sqltable.DoubleQuote(d.settings.Column))
	if _, err := d.pool.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create table")
	}
	d.GetLogger().Info("table ready", zap.String("table", d.settings.Qualified(sqltable.DoubleQuote)))
	return nil
}

// BeginTx starts a database transaction
func (d *PostgreSQLDestination) BeginTx(ctx context.Context) (core.Tx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to begin transaction")
	}
	return &pgTx{tx: tx, insertSQL: d.insertSQL}, nil
}

// Close closes the pool
func (d *PostgreSQLDestination) Close(ctx context.Context) error {
	d.pool.Close()
	d.SetState(core.StateStopped)
	return nil
}

type pgTx struct {
	tx        pgx.Tx
	insertSQL string
}

func (t *pgTx) Insert(ctx context.Context, row core.Row) error {
	_, err := t.tx.Exec(ctx, t.insertSQL, string(row.Data))
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback ignores ErrTxClosed so it is safe after Commit
func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
