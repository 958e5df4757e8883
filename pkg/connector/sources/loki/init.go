package loki

import (
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/registry"
)

// Credential keys read by the registered factory besides the connection keys
const (
	CredQuery = "query"
	CredMode  = "mode"
)

func init() {
	_ = registry.RegisterSource("loki", NewFromConfig)

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "loki",
		Type:        string(core.ConnectorTypeSource),
		Description: "Grafana Loki log tail (websocket) or windowed range query source",
		Settings:    []string{config.CredEndpoint, config.CredUser, config.CredPassword, CredQuery, CredMode},
	})
}

// NewFromConfig builds a source from security.credentials: the connection
// keys, the LogQL selector under "query" and the mode under "mode".
func NewFromConfig(cfg *config.BaseConfig) (core.Source, error) {
	if cfg == nil {
		cfg = config.NewBaseConfig("loki", string(core.ConnectorTypeSource))
	}
	mode, err := ParseMode(cfg.Security.Credential(CredMode, string(ModeTail)))
	if err != nil {
		return nil, err
	}
	return NewLokiSource(cfg, Options{
		Mode:       mode,
		Connection: config.LokiConnectionFromCredentials(cfg.Security.Credentials),
		Query:      config.LokiQuery{Selector: cfg.Security.Credentials[CredQuery]},
	})
}
