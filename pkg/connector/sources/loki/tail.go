package loki

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// TailOptions configures a StreamingTail
type TailOptions struct {
	// Limit is the tail limit query parameter; 0 omits it
	Limit int
	// ForceTLS always dials wss regardless of the endpoint scheme
	ForceTLS bool
	// HandshakeTimeout bounds the websocket handshake
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the wait for one message; 0 waits forever
	ReadTimeout        time.Duration
	InsecureSkipVerify bool

	Dialer Dialer
	Now    func() time.Time
	Logger *zap.Logger
}

// StreamingTail opens Loki tail subscriptions over websocket
type StreamingTail struct {
	conn        config.LokiConnection
	query       config.LokiQuery
	limit       int
	forceTLS    bool
	readTimeout time.Duration
	dialer      Dialer
	now         func() time.Time
	logger      *zap.Logger
}

// NewStreamingTail creates a tail transport for query against conn
func NewStreamingTail(conn config.LokiConnection, query config.LokiQuery, opts TailOptions) *StreamingTail {
	dialer := opts.Dialer
	if dialer == nil {
		d := &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
		if opts.InsecureSkipVerify {
			d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via tls_skip_verify
		}
		dialer = d
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &StreamingTail{
		conn:        conn,
		query:       query,
		limit:       opts.Limit,
		forceTLS:    opts.ForceTLS,
		readTimeout: opts.ReadTimeout,
		dialer:      dialer,
		now:         now,
		logger:      log,
	}
}

// URL builds the tail URL anchored at start
func (t *StreamingTail) URL(start time.Time) (string, error) {
	u, err := endpointURL(t.conn.Endpoint, tailPath)
	if err != nil {
		return "", err
	}
	scheme, err := websocketScheme(u.Scheme, t.forceTLS)
	if err != nil {
		return "", err
	}
	u.Scheme = scheme

	params := url.Values{}
	params.Set("query", t.query.Selector)
	if t.limit > 0 {
		params.Set("limit", strconv.Itoa(t.limit))
	}
	params.Set("start", unixNano(start))
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// websocketScheme maps an endpoint scheme onto ws or wss
func websocketScheme(scheme string, forceTLS bool) (string, error) {
	switch scheme {
	case "http", "ws", "https", "wss":
	default:
		return "", errors.Newf(errors.ErrorTypeConnection, "unsupported endpoint scheme %q", scheme)
	}
	if forceTLS {
		return "wss", nil
	}
	switch scheme {
	case "http", "ws":
		return "ws", nil
	default:
		return "wss", nil
	}
}

// Open dials a new subscription starting at the current time. Every failure
// is a connection error.
func (t *StreamingTail) Open(ctx context.Context) (Subscription, error) {
	if err := t.conn.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "invalid loki connection")
	}

	start := t.now()
	target, err := t.URL(start)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeConnection) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "invalid loki endpoint")
	}

	header := http.Header{}
	if auth := t.conn.BasicAuth(); auth != "" {
		header.Set("Authorization", auth)
	}

	ws, resp, err := t.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		e := errors.Wrap(err, errors.ErrorTypeConnection, "tail handshake failed").
			WithDetail("endpoint", t.conn.Endpoint)
		if resp != nil {
			e = e.WithDetail("status", resp.StatusCode)
		}
		return nil, e
	}
	if resp != nil && (resp.StatusCode < 100 || resp.StatusCode >= 300) {
		ws.Close()
		return nil, errors.Newf(errors.ErrorTypeConnection, "tail handshake returned status %d", resp.StatusCode).
			WithDetail("endpoint", t.conn.Endpoint)
	}

	t.logger.Info("tail subscription opened",
		zap.String("endpoint", t.conn.Endpoint),
		zap.String("query", t.query.Selector),
		zap.Time("start", start))

	return &tailSubscription{conn: ws, readTimeout: t.readTimeout}, nil
}

// tailSubscription reads one Loki tail message per Next call
type tailSubscription struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

func (s *tailSubscription) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// ReadMessage does not take a context; closing the socket unblocks it
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStream, "set read deadline")
		}
	}

	_, payload, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e := errors.Wrap(err, errors.ErrorTypeStream, "tail stream read failed")
		if ce, ok := err.(*websocket.CloseError); ok {
			e = e.WithDetail("close_code", ce.Code)
		}
		return nil, e
	}
	return payload, nil
}

func (s *tailSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
