// Package loki implements the Loki source connector. It reads log lines from
// a Grafana Loki server, either over a long-lived websocket tail or by
// re-issuing a range query over a sliding window, and writes every payload
// into a transactional sink as one batch of JSON rows.
//
// Stream faults, failed range queries and undecodable payloads are logged and
// survived. Only a failed initial connection (or an exhausted reconnect
// policy) and sink failures stop the source.
package loki

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/clients"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/connector/base"
	"github.com/ajitpratap0/lokitail/pkg/connector/core"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/observability"
	"go.uber.org/zap"
)

// Version is the connector version reported in logs and the catalog
const Version = "1.0.0"

// Options carries the Loki-specific settings and the collaborators tests
// replace. Zero values select production defaults. A poll run closes
// HTTPClient on return when it implements io.Closer.
type Options struct {
	Mode       Mode
	Connection config.LokiConnection
	Query      config.LokiQuery

	Dialer     Dialer
	HTTPClient HTTPGetter
	Now        func() time.Time
	Sleep      SleepFunc
	Logger     *zap.Logger
}

// LokiSource is the Loki source connector. A source runs once.
type LokiSource struct {
	*base.BaseConnector

	mode   Mode
	conn   config.LokiConnection
	query  config.LokiQuery
	window time.Duration
	now    func() time.Time

	supervisor *ReconnectSupervisor
	poll       Poller
	client     io.Closer
	emitter    *BatchEmitter

	started atomic.Bool
}

// NewLokiSource creates a source from the connector config and options
func NewLokiSource(cfg *config.BaseConfig, opts Options) (*LokiSource, error) {
	if cfg == nil {
		cfg = config.NewBaseConfig("loki", string(core.ConnectorTypeSource))
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid loki source config")
	}
	if opts.Query.Selector == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "loki query selector is required")
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}

	s := &LokiSource{
		BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeSource, Version, cfg),
		mode:          mode,
		conn:          opts.Connection,
		query:         opts.Query,
		window:        cfg.Performance.BatchWindow,
		now:           opts.Now,
	}
	if opts.Logger != nil {
		s.SetLogger(opts.Logger)
	}
	if s.now == nil {
		s.now = time.Now
	}

	log := s.GetLogger()
	m := s.GetMetricsCollector()
	s.emitter = NewBatchEmitter(observability.NewConnectorTracer(string(core.ConnectorTypeSource), cfg.Name), m, log)

	switch mode {
	case ModeTail:
		tail := NewStreamingTail(s.conn, s.query, TailOptions{
			Limit:              cfg.Performance.Limit,
			ForceTLS:           cfg.Security.ForceTLS,
			HandshakeTimeout:   cfg.Timeouts.Connection,
			ReadTimeout:        cfg.Timeouts.Read,
			InsecureSkipVerify: cfg.Security.TLSSkipVerify,
			Dialer:             opts.Dialer,
			Now:                s.now,
			Logger:             log,
		})
		s.supervisor = NewReconnectSupervisor(tail, s.GetReconnectPolicy(), opts.Sleep, m, log)
	case ModePoll:
		client := opts.HTTPClient
		if client == nil {
			hc := clients.DefaultHTTPConfig()
			hc.DialTimeout = cfg.Timeouts.Connection
			hc.RequestTimeout = cfg.Timeouts.Request
			hc.InsecureSkipVerify = cfg.Security.TLSSkipVerify
			hc.RateLimit = float64(cfg.Reliability.RateLimitPerSec)
			client = clients.NewHTTPClient(hc, log)
		}
		if c, ok := client.(io.Closer); ok {
			s.client = c
		}
		s.poll = NewWindowedPoll(s.conn, s.query, PollOptions{
			Window: s.window,
			Limit:  cfg.Performance.Limit,
			Client: client,
			Logger: log,
		})
	}

	return s, nil
}

// Mode returns the acquisition mode
func (s *LokiSource) Mode() Mode {
	return s.mode
}

// Run reads from Loki into sink until ctx is cancelled, which returns nil,
// or until a connection or persistence error, which is returned.
func (s *LokiSource) Run(ctx context.Context, sink core.Sink) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New(errors.ErrorTypeInternal, "loki source already started")
	}

	log := s.GetLogger()
	log.Info("starting loki source",
		zap.String("mode", string(s.mode)),
		zap.Stringer("connection", s.conn),
		zap.String("query", s.query.Selector))

	s.SetState(core.StateConnecting)
	var err error
	if verr := s.conn.Validate(); verr != nil {
		err = errors.Wrap(verr, errors.ErrorTypeConnection, "invalid loki connection")
	} else if s.mode == ModePoll {
		err = s.runPoll(ctx, sink)
	} else {
		err = s.runTail(ctx, sink)
	}

	if ctx.Err() != nil {
		s.SetState(core.StateStopped)
		log.Info("loki source stopped")
		return nil
	}
	s.Fail(err)
	_ = s.GetErrorHandler().Handle(err)
	return err
}

func (s *LokiSource) runTail(ctx context.Context, sink core.Sink) error {
	sub, err := s.supervisor.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { sub.Close() }()

	s.SetState(core.StateStreaming)
	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.GetMetricsCollector().StreamFault()
			s.SetState(core.StateReconnecting)

			next, err := s.supervisor.Recover(ctx, sub, err)
			if err != nil {
				return err
			}
			sub = next
			s.SetState(core.StateStreaming)
			continue
		}

		if err := s.handlePayload(ctx, sink, payload, ModeTail); err != nil {
			return err
		}
	}
}

func (s *LokiSource) runPoll(ctx context.Context, sink core.Sink) error {
	s.SetState(core.StatePolling)
	if s.client != nil {
		defer func() {
			if err := s.client.Close(); err != nil {
				s.GetLogger().Debug("closing http client", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	// first window is queried at start, then once per tick
	for {
		if err := s.pollOnce(ctx, sink); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *LokiSource) pollOnce(ctx context.Context, sink core.Sink) error {
	payload, err := s.poll.Tick(ctx, s.now())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.GetMetricsCollector().QueryError(stageOf(err))
		return s.GetErrorHandler().Handle(err)
	}
	return s.handlePayload(ctx, sink, payload, ModePoll)
}

// handlePayload decodes one payload and emits it. Decode failures are
// recoverable; only sink failures are returned.
func (s *LokiSource) handlePayload(ctx context.Context, sink core.Sink, payload []byte, mode Mode) error {
	m := s.GetMetricsCollector()
	m.PayloadReceived(string(mode))

	if mode == ModeTail && len(payload) == 0 {
		m.Heartbeat()
		return nil
	}

	decoded, err := DecodePayload(payload)
	if err != nil {
		if mode == ModePoll {
			err = queryError(err, StageDecode, "decoding range query response")
			m.QueryError(StageDecode)
		} else {
			m.DecodeError()
		}
		return s.GetErrorHandler().Handle(err, zap.String("mode", string(mode)))
	}

	if decoded.DroppedEntries > 0 {
		m.DroppedEntries(decoded.DroppedEntries)
		s.GetLogger().Warn("loki dropped entries from the tail",
			zap.Int("dropped", decoded.DroppedEntries))
	}

	if err := s.emitter.Emit(ctx, sink, decoded.Records); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func stageOf(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		if stage, ok := e.Details["stage"].(string); ok {
			return stage
		}
	}
	return StageTransport
}
