package config

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Environment variables read by LokiConnectionFromEnv
const (
	EnvLokiAddr     = "LOKI_ADDR"
	EnvLokiUsername = "LOKI_USERNAME"
	EnvLokiPassword = "LOKI_PASSWORD"
)

// EnvLookup reports the value of an environment variable and whether it is set.
// os.LookupEnv satisfies it.
type EnvLookup func(key string) (string, bool)

// LokiConnection holds the parameters needed to reach a Loki server.
// Values are immutable; the With methods return updated copies.
type LokiConnection struct {
	Endpoint string  `yaml:"endpoint" json:"endpoint"`
	User     *string `yaml:"user,omitempty" json:"user,omitempty"`
	Password *string `yaml:"password,omitempty" json:"password,omitempty"`
}

// LokiQuery is the LogQL selector passed verbatim to Loki
type LokiQuery struct {
	Selector string `yaml:"selector" json:"selector"`
}

// LokiConnectionFromEnv builds a connection from LOKI_ADDR, LOKI_USERNAME and
// LOKI_PASSWORD. Missing user or password stay unset; a missing address
// leaves the endpoint empty and is reported by Validate.
func LokiConnectionFromEnv(lookup EnvLookup) LokiConnection {
	var c LokiConnection
	if lookup == nil {
		return c
	}
	if v, ok := lookup(EnvLokiAddr); ok {
		c.Endpoint = v
	}
	if v, ok := lookup(EnvLokiUsername); ok {
		c.User = &v
	}
	if v, ok := lookup(EnvLokiPassword); ok {
		c.Password = &v
	}
	return c
}

// WithEndpoint returns a copy with the endpoint replaced when endpoint is non-nil
func (c LokiConnection) WithEndpoint(endpoint *string) LokiConnection {
	if endpoint != nil {
		c.Endpoint = *endpoint
	}
	return c
}

// WithUser returns a copy with the user replaced when user is non-nil
func (c LokiConnection) WithUser(user *string) LokiConnection {
	if user != nil {
		v := *user
		c.User = &v
	}
	return c
}

// WithPassword returns a copy with the password replaced when password is non-nil
func (c LokiConnection) WithPassword(password *string) LokiConnection {
	if password != nil {
		v := *password
		c.Password = &v
	}
	return c
}

// Validate checks that the connection can be attempted
func (c LokiConnection) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("loki endpoint is required (set %s or --endpoint)", EnvLokiAddr)
	}
	return nil
}

// HasCredentials returns true if a user is configured
func (c LokiConnection) HasCredentials() bool {
	return c.User != nil
}

// BasicAuth returns the Authorization header value, or "" without credentials.
// An unset password encodes as "user:".
func (c LokiConnection) BasicAuth() string {
	if c.User == nil {
		return ""
	}
	password := ""
	if c.Password != nil {
		password = *c.Password
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(*c.User+":"+password))
}

// String hides the password
func (c LokiConnection) String() string {
	user := "<unset>"
	if c.User != nil {
		user = *c.User
	}
	return fmt.Sprintf("LokiConnection{endpoint=%s user=%s}", c.Endpoint, user)
}

// Keys under security.credentials that carry the Loki connection
const (
	CredEndpoint = "endpoint"
	CredUser     = "user"
	CredPassword = "password"
)

// LokiConnectionFromCredentials reads the connection from a credentials map
// with the same set-if-present rules as LokiConnectionFromEnv.
func LokiConnectionFromCredentials(creds map[string]string) LokiConnection {
	keys := map[string]string{
		EnvLokiAddr:     CredEndpoint,
		EnvLokiUsername: CredUser,
		EnvLokiPassword: CredPassword,
	}
	return LokiConnectionFromEnv(func(env string) (string, bool) {
		v, ok := creds[keys[env]]
		return v, ok
	})
}

// ApplyCredentials writes the set fields of c into creds
func (c LokiConnection) ApplyCredentials(creds map[string]string) {
	if c.Endpoint != "" {
		creds[CredEndpoint] = c.Endpoint
	}
	if c.User != nil {
		creds[CredUser] = *c.User
	}
	if c.Password != nil {
		creds[CredPassword] = *c.Password
	}
}

// StringPtr returns a pointer to s, for use with the With methods
func StringPtr(s string) *string {
	return &s
}
