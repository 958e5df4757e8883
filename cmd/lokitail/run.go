package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/lokitail/internal/pipeline"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/connector/destinations"
	"github.com/ajitpratap0/lokitail/pkg/connector/sources"
	"github.com/ajitpratap0/lokitail/pkg/json"
	"github.com/ajitpratap0/lokitail/pkg/logger"
	"github.com/ajitpratap0/lokitail/pkg/observability"
)

// Flag names; each is also read from LOKITAIL_<NAME> with dashes as underscores
const (
	flagConfig      = "config"
	flagEndpoint    = "endpoint"
	flagUser        = "user"
	flagPassword    = "password"
	flagQuery       = "query"
	flagMode        = "mode"
	flagSink        = "sink"
	flagLogLevel    = "log-level"
	flagLogEncoding = "log-encoding"
	flagMetricsAddr = "metrics-addr"
	flagTracing     = "tracing"
	flagForceTLS    = "force-tls"
)

const shutdownTimeout = 5 * time.Second

// fileConfig is the layout of the --config YAML file
type fileConfig struct {
	Source config.BaseConfig `yaml:"source"`
	Sink   config.BaseConfig `yaml:"sink"`
}

// runConfig is everything a run needs after flags, env and file are merged
type runConfig struct {
	Source *config.BaseConfig
	Sink   *config.BaseConfig
}

func newRunCommand() *cobra.Command {
	var v *viper.Viper

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream a Loki query into a sink",
		Long: `Stream a Loki query into a sink until interrupted.

The Loki connection comes from LOKI_ADDR, LOKI_USERNAME and LOKI_PASSWORD;
--endpoint, --user and --password override them only when given.

Example:
  LOKI_ADDR=http://localhost:3100 lokitail run --query '{app="api"}' --sink jsonl
  lokitail run --config lokitail.yaml --mode poll`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := loadRunConfig(v, cmd, os.LookupEnv)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, rc)
		},
	}

	v = bindRunFlags(cmd)
	return cmd
}

// bindRunFlags declares the run flags on cmd and binds them, with their
// LOKITAIL_ environment variables, to a fresh viper instance
func bindRunFlags(cmd *cobra.Command) *viper.Viper {
	f := cmd.Flags()
	f.String(flagConfig, "", "Path to a YAML file with source and sink sections")
	f.String(flagEndpoint, "", "Loki base URL, overrides "+config.EnvLokiAddr)
	f.String(flagUser, "", "Basic auth user, overrides "+config.EnvLokiUsername)
	f.String(flagPassword, "", "Basic auth password, overrides "+config.EnvLokiPassword)
	f.String(flagQuery, "", "LogQL stream selector, e.g. {app=\"api\"}")
	f.String(flagMode, "", "Acquisition mode: tail (websocket) or poll (range queries)")
	f.String(flagSink, "", "Sink type (see 'lokitail list'), default jsonl to stdout")
	f.String(flagLogLevel, "", "Log level (debug, info, warn, error)")
	f.String(flagLogEncoding, "", "Log encoding (json, console)")
	f.String(flagMetricsAddr, "", "Serve prometheus metrics and health on this address, e.g. :9090")
	f.Bool(flagTracing, false, "Export trace spans to stderr")
	f.Bool(flagForceTLS, false, "Always dial the tail over wss; without it http endpoints tail over plain ws")

	v := viper.New()
	v.SetEnvPrefix("LOKITAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(f)
	return v
}

// loadRunConfig merges, lowest first: defaults, the config file, the
// environment and flags. The Loki connection follows set-if-present rules at
// every layer, so an unset flag never clears a value from the environment.
func loadRunConfig(v *viper.Viper, cmd *cobra.Command, lookup config.EnvLookup) (*runConfig, error) {
	fc := fileConfig{
		Source: *config.NewBaseConfig("loki", "loki"),
		Sink:   *config.NewBaseConfig("sink", "jsonl"),
	}
	if path := v.GetString(flagConfig); path != "" {
		if err := config.Load(path, &fc); err != nil {
			return nil, err
		}
	}
	src, sink := &fc.Source, &fc.Sink
	if src.Security.Credentials == nil {
		src.Security.Credentials = map[string]string{}
	}
	if sink.Security.Credentials == nil {
		sink.Security.Credentials = map[string]string{}
	}

	conn := config.LokiConnectionFromCredentials(src.Security.Credentials)
	env := config.LokiConnectionFromEnv(lookup)
	conn = conn.WithEndpoint(nonEmpty(env.Endpoint)).WithUser(env.User).WithPassword(env.Password)
	conn = conn.
		WithEndpoint(changed(cmd, flagEndpoint)).
		WithUser(changed(cmd, flagUser)).
		WithPassword(changed(cmd, flagPassword))
	conn.ApplyCredentials(src.Security.Credentials)

	if q := v.GetString(flagQuery); q != "" {
		src.Security.Credentials["query"] = q
	}
	if m := v.GetString(flagMode); m != "" {
		src.Security.Credentials["mode"] = m
	}
	if s := v.GetString(flagSink); s != "" {
		sink.Type = s
	}
	if v.GetBool(flagForceTLS) {
		src.Security.ForceTLS = true
	}

	obs := &src.Observability
	if l := v.GetString(flagLogLevel); l != "" {
		obs.LogLevel = l
	}
	if e := v.GetString(flagLogEncoding); e != "" {
		obs.LogEncoding = e
	}
	if a := v.GetString(flagMetricsAddr); a != "" {
		obs.MetricsAddr = a
	}
	if v.GetBool(flagTracing) {
		obs.EnableTracing = true
	}

	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("source configuration error: %w", err)
	}
	if err := sink.Validate(); err != nil {
		return nil, fmt.Errorf("sink configuration error: %w", err)
	}
	return &runConfig{Source: src, Sink: sink}, nil
}

func changed(cmd *cobra.Command, name string) *string {
	if cmd == nil || !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// run wires logging, tracing and metrics, opens the sink and runs the source
// until ctx is cancelled or a fatal error occurs
func run(ctx context.Context, rc *runConfig) error {
	obs := rc.Source.Observability
	if err := logger.Init(logger.Config{Level: obs.LogLevel, Encoding: obs.LogEncoding}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(
		zap.String("component", "lokitail-cli"),
		zap.String("source", rc.Source.Type),
		zap.String("sink", rc.Sink.Type),
	)

	if obs.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceVersion: version,
			SamplingRate:   obs.TracingSampleRate,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	source, err := sources.Open(rc.Source)
	if err != nil {
		return fmt.Errorf("failed to create source '%s': %w", rc.Source.Type, err)
	}

	sink, err := destinations.Open(ctx, rc.Sink)
	if err != nil {
		return fmt.Errorf("failed to create sink '%s': %w", rc.Sink.Type, err)
	}

	if obs.MetricsAddr != "" {
		srv := newMetricsServer(obs.MetricsAddr, source)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("serving metrics", zap.String("addr", obs.MetricsAddr))
	}

	p := pipeline.New(source, sink, &pipeline.Config{ShutdownTimeout: shutdownTimeout}, log)
	return p.Run(ctx)
}

// newMetricsServer serves /metrics and a /healthz that reports the source
// health, 503 unless healthy
func newMetricsServer(addr string, source core.Source) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := source.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !h.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		body, _ := json.Marshal(map[string]interface{}{
			"status":  h.Status,
			"state":   source.State(),
			"details": h.Details,
		})
		_, _ = w.Write(body)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
