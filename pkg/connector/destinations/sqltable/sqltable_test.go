package sqltable

import (
	"testing"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		creds     map[string]string
		want      Settings
		qualified string
		wantErr   bool
	}{
		{
			name:      "defaults",
			creds:     map[string]string{CredDSN: "postgres://x"},
			want:      Settings{DSN: "postgres://x", Table: DefaultTable, Column: DefaultColumn},
			qualified: `"loki_logs"`,
		},
		{
			name:      "schema qualified with create",
			creds:     map[string]string{CredDSN: "d", CredTable: "logs.loki", CredCreateTable: "true"},
			want:      Settings{DSN: "d", Schema: "logs", Table: "loki", Column: DefaultColumn, CreateTable: true},
			qualified: `"logs"."loki"`,
		},
		{name: "missing dsn", creds: map[string]string{}, wantErr: true},
		{name: "injection", creds: map[string]string{CredDSN: "d", CredTable: "t; drop table x"}, wantErr: true},
		{name: "bad bool", creds: map[string]string{CredDSN: "d", CredCreateTable: "maybe"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewBaseConfig("sql", "destination")
			cfg.Security.Credentials = tt.creds
			got, err := FromConfig(cfg)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.qualified, got.Qualified(DoubleQuote))
		})
	}
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, "`a``b`", Backtick("a`b"))
	assert.Equal(t, `"a""b"`, DoubleQuote(`a"b`))
}
