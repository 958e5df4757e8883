package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/json"
)

func env(vars map[string]string) config.EnvLookup {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func newTestRun(t *testing.T, args ...string) (*cobra.Command, func(config.EnvLookup) (*runConfig, error)) {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	v := bindRunFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, func(lookup config.EnvLookup) (*runConfig, error) {
		return loadRunConfig(v, cmd, lookup)
	}
}

func TestConnectionPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		env          map[string]string
		wantEndpoint string
		wantUser     string
		wantPassword string
		hasPassword  bool
	}{
		{
			name:         "environment only",
			env:          map[string]string{config.EnvLokiAddr: "http://env:3100", config.EnvLokiUsername: "env-user"},
			wantEndpoint: "http://env:3100",
			wantUser:     "env-user",
		},
		{
			name:         "flags override environment when given",
			args:         []string{"--endpoint", "https://flag:443", "--password", "secret"},
			env:          map[string]string{config.EnvLokiAddr: "http://env:3100", config.EnvLokiUsername: "env-user"},
			wantEndpoint: "https://flag:443",
			wantUser:     "env-user",
			wantPassword: "secret",
			hasPassword:  true,
		},
		{
			name:         "explicit empty password flag is kept",
			args:         []string{"--user", "admin", "--password", ""},
			env:          map[string]string{config.EnvLokiAddr: "http://env:3100", config.EnvLokiPassword: "from-env"},
			wantEndpoint: "http://env:3100",
			wantUser:     "admin",
			hasPassword:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, load := newTestRun(t, append(tt.args, "--query", `{app="api"}`)...)
			rc, err := load(env(tt.env))
			require.NoError(t, err)

			creds := rc.Source.Security.Credentials
			assert.Equal(t, tt.wantEndpoint, creds[config.CredEndpoint])
			assert.Equal(t, tt.wantUser, creds[config.CredUser])
			pw, ok := creds[config.CredPassword]
			assert.Equal(t, tt.hasPassword, ok)
			assert.Equal(t, tt.wantPassword, pw)
			assert.Equal(t, `{app="api"}`, creds["query"])
		})
	}
}

func TestConfigFile(t *testing.T) {
	t.Setenv("TEST_LOKI_BUCKET", "archive")
	path := filepath.Join(t.TempDir(), "lokitail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  name: prod-logs
  type: loki
  performance:
    batch_window: 30s
    limit: 100
  security:
    credentials:
      endpoint: http://file:3100
      query: '{job="varlogs"}'
      mode: poll
sink:
  name: archive
  type: s3
  security:
    credentials:
      bucket: ${TEST_LOKI_BUCKET}
`), 0o600))

	_, load := newTestRun(t, "--config", path, "--mode", "tail", "--log-level", "debug")
	rc, err := load(env(map[string]string{config.EnvLokiAddr: "http://env:3100"}))
	require.NoError(t, err)

	assert.Equal(t, "prod-logs", rc.Source.Name)
	assert.Equal(t, 30*time.Second, rc.Source.Performance.BatchWindow)
	assert.Equal(t, 100, rc.Source.Performance.Limit)
	assert.Equal(t, "http://env:3100", rc.Source.Security.Credentials[config.CredEndpoint])
	assert.Equal(t, "tail", rc.Source.Security.Credentials["mode"])
	assert.Equal(t, "debug", rc.Source.Observability.LogLevel)
	assert.Equal(t, "s3", rc.Sink.Type)
	assert.Equal(t, "archive", rc.Sink.Security.Credentials["bucket"])
}

func TestSinkFlagAndDefaults(t *testing.T) {
	_, load := newTestRun(t, "--sink", "memory")
	rc, err := load(env(nil))
	require.NoError(t, err)
	assert.Equal(t, "memory", rc.Sink.Type)
	assert.Equal(t, config.DefaultBatchWindow, rc.Source.Performance.BatchWindow)
	assert.False(t, rc.Source.Security.ForceTLS)
}

func TestForceTLSFlag(t *testing.T) {
	_, load := newTestRun(t, "--force-tls")
	rc, err := load(env(map[string]string{config.EnvLokiAddr: "http://env:3100"}))
	require.NoError(t, err)
	assert.True(t, rc.Source.Security.ForceTLS)
}

func TestRunFailsWithoutEndpoint(t *testing.T) {
	_, load := newTestRun(t, "--sink", "memory", "--query", `{app="api"}`, "--log-level", "error")
	rc, err := load(env(nil))
	require.NoError(t, err)

	err = run(context.Background(), rc)
	assert.Error(t, err)
}

func TestVersionAndList(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "lokitail v"+version)

	out.Reset()
	root = newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"list"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "loki")
	assert.Contains(t, out.String(), "postgresql")
}

type stubSource struct {
	health *core.HealthStatus
}

func (s *stubSource) Name() string                                 { return "stub" }
func (s *stubSource) Run(ctx context.Context, sink core.Sink) error { return nil }
func (s *stubSource) State() core.RunState                         { return core.StateReconnecting }
func (s *stubSource) Health(ctx context.Context) *core.HealthStatus { return s.health }

func TestHealthEndpoint(t *testing.T) {
	src := &stubSource{health: &core.HealthStatus{Status: core.HealthDegraded, Details: map[string]interface{}{}}}
	srv := httptest.NewServer(newMetricsServer(":0", src).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]interface{}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "reconnecting", body["state"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
