// Package sqltable holds the table settings shared by the SQL sinks. Every
// SQL sink writes into a single-column table whose one column holds the JSON
// rendering of a record.
package sqltable

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/errors"
)

// Credential keys
const (
	CredDSN         = "dsn"
	CredTable       = "table"
	CredColumn      = "column"
	CredCreateTable = "create_table"
)

// Defaults
const (
	DefaultTable  = "loki_logs"
	DefaultColumn = "data"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Settings names the target table
type Settings struct {
	DSN         string
	Schema      string
	Table       string
	Column      string
	CreateTable bool
}

// FromConfig reads the table settings from security.credentials. The table
// may be schema qualified ("logs.loki").
func FromConfig(cfg *config.BaseConfig) (Settings, error) {
	s := Settings{
		DSN:    cfg.Security.Credential(CredDSN, ""),
		Column: cfg.Security.Credential(CredColumn, DefaultColumn),
	}
	if s.DSN == "" {
		return s, errors.New(errors.ErrorTypeConfig, "dsn is required")
	}

	table := cfg.Security.Credential(CredTable, DefaultTable)
	if schema, name, ok := strings.Cut(table, "."); ok {
		s.Schema, s.Table = schema, name
	} else {
		s.Table = table
	}
	for _, ident := range []string{s.Schema, s.Table, s.Column} {
		if ident != "" && !identPattern.MatchString(ident) {
			return s, errors.Newf(errors.ErrorTypeConfig, "invalid identifier %q", ident)
		}
	}

	if v := cfg.Security.Credential(CredCreateTable, ""); v != "" {
		create, err := strconv.ParseBool(v)
		if err != nil {
			return s, errors.Wrap(err, errors.ErrorTypeConfig, "invalid create_table")
		}
		s.CreateTable = create
	}
	return s, nil
}

// Qualified joins schema and table, each wrapped by quote
func (s Settings) Qualified(quote func(string) string) string {
	if s.Schema == "" {
		return quote(s.Table)
	}
	return quote(s.Schema) + "." + quote(s.Table)
}

// DoubleQuote quotes an identifier the ANSI way
func DoubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Backtick quotes an identifier the MySQL way
func Backtick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
