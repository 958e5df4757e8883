// Package sqldb provides the database/sql sinks: MySQL through
// go-sql-driver/mysql and Snowflake through gosnowflake. Each batch is one
// SQL transaction with one INSERT per record.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations/sqltable"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"
)

const (
	defaultMaxOpenConns = 4
	defaultMaxIdleConns = 2
)

// Dialect captures what differs between the supported databases
type Dialect struct {
	Name       string
	Quote      func(string) string
	ColumnType string
	Connector  func(dsn string, cfg *config.BaseConfig) (driver.Connector, error)
}

// MySQL stores records in a JSON column
var MySQL = Dialect{
	Name:       "mysql",
	Quote:      sqltable.Backtick,
	ColumnType: "JSON",
	Connector: func(dsn string, cfg *config.BaseConfig) (driver.Connector, error) {
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		if cfg.Timeouts.Connection > 0 {
			mc.Timeout = cfg.Timeouts.Connection
		}
		if cfg.Timeouts.Request > 0 {
			mc.WriteTimeout = cfg.Timeouts.Request
		}
		return mysql.NewConnector(mc)
	},
}

// Snowflake stores records in a VARCHAR column
var Snowflake = Dialect{
	Name:       "snowflake",
	Quote:      sqltable.DoubleQuote,
	ColumnType: "VARCHAR",
	Connector: func(dsn string, cfg *config.BaseConfig) (driver.Connector, error) {
		sc, err := gosnowflake.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		if cfg.Timeouts.Connection > 0 {
			sc.LoginTimeout = cfg.Timeouts.Connection
		}
		sc.Application = "lokitail"
		return gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, *sc), nil
	},
}

// SQLDestination is a database/sql sink
type SQLDestination struct {
	*base.BaseConnector

	dialect   Dialect
	settings  sqltable.Settings
	db        *sql.DB
	insertSQL string
}

// NewSQLDestination opens the database for dialect and creates the table
// when create_table is set
func NewSQLDestination(ctx context.Context, cfg *config.BaseConfig, dialect Dialect) (*SQLDestination, error) {
	settings, err := sqltable.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	connector, err := dialect.Connector(settings.DSN, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse "+dialect.Name+" dsn")
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)

	d := newDestination(cfg, settings, dialect, db)
	if err := d.open(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func newDestination(cfg *config.BaseConfig, settings sqltable.Settings, dialect Dialect, db *sql.DB) *SQLDestination {
	return &SQLDestination{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeDestination, "1.0.0", cfg),
		dialect:       dialect,
		settings:      settings,
		db:            db,
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)",
			settings.Qualified(dialect.Quote), dialect.Quote(settings.Column)),
	}
}

func (d *SQLDestination) open(ctx context.Context) error {
	if err := d.ConnectWithRetry(ctx, d.dialect.Name, d.db.PingContext); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to "+d.dialect.Name)
	}
	if !d.settings.CreateTable {
		return nil
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s NOT NULL)",
		d.settings.Qualified(d.dialect.Quote), d.dialect.Quote(d.settings.Column), d.dialect.ColumnType)
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create table")
	}
	d.GetLogger().Info("table ready",
		zap.String("dialect", d.dialect.Name),
		zap.String("table", d.settings.Qualified(d.dialect.Quote)))
	return nil
}

// BeginTx starts a database transaction
func (d *SQLDestination) BeginTx(ctx context.Context) (core.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to begin transaction")
	}
	return &sqlTx{tx: tx, insertSQL: d.insertSQL}, nil
}

// Close closes the database handle
func (d *SQLDestination) Close(ctx context.Context) error {
	d.SetState(core.StateStopped)
	return d.db.Close()
}

type sqlTx struct {
	tx        *sql.Tx
	insertSQL string
}

func (t *sqlTx) Insert(ctx context.Context, row core.Row) error {
	_, err := t.tx.ExecContext(ctx, t.insertSQL, string(row.Data))
	return err
}

func (t *sqlTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

// Rollback ignores sql.ErrTxDone so it is safe after Commit
func (t *sqlTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
