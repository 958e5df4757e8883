package loki

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/clients"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"go.uber.org/zap"
)

// Query failure stages, reported in the "stage" detail of query errors and
// as a metrics label
const (
	StageRequest   = "request"
	StageTransport = "transport"
	StageStatus    = "status"
	StageRead      = "read"
	StageDecode    = "decode"
)

// HTTPGetter issues GET requests. *clients.HTTPClient satisfies it.
type HTTPGetter interface {
	Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
}

// PollOptions configures a WindowedPoll
type PollOptions struct {
	// Window is the width of each query window
	Window time.Duration
	// Limit is the query_range limit parameter; 0 omits it
	Limit  int
	Client HTTPGetter
	Logger *zap.Logger
}

// WindowedPoll runs one query_range request per tick over the window that
// ends at the tick time. Windows are independent; consecutive ticks do not
// track what the previous one returned.
type WindowedPoll struct {
	conn   config.LokiConnection
	query  config.LokiQuery
	window time.Duration
	limit  int
	client HTTPGetter
	logger *zap.Logger
}

// NewWindowedPoll creates a polling transport for query against conn
func NewWindowedPoll(conn config.LokiConnection, query config.LokiQuery, opts PollOptions) *WindowedPoll {
	window := opts.Window
	if window <= 0 {
		window = config.DefaultBatchWindow
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = clients.NewHTTPClient(clients.DefaultHTTPConfig(), log)
	}

	return &WindowedPoll{
		conn:   conn,
		query:  query,
		window: window,
		limit:  opts.Limit,
		client: client,
		logger: log,
	}
}

// Window returns the query window for a tick at now
func (p *WindowedPoll) Window(now time.Time) TimeWindow {
	return TimeWindow{Start: now.Add(-p.window), End: now}
}

// URL builds the query_range URL for w
func (p *WindowedPoll) URL(w TimeWindow) (string, error) {
	u, err := endpointURL(p.conn.Endpoint, queryRangePath)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", errors.Newf(errors.ErrorTypeQuery, "unsupported endpoint scheme %q", u.Scheme)
	}

	params := url.Values{}
	params.Set("query", p.query.Selector)
	params.Set("start", unixNano(w.Start))
	params.Set("end", unixNano(w.End))
	params.Set("direction", "forward")
	if p.limit > 0 {
		params.Set("limit", strconv.Itoa(p.limit))
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Tick queries the window ending at now and returns the raw response body.
// Every failure is a query error carrying the stage it happened in.
func (p *WindowedPoll) Tick(ctx context.Context, now time.Time) ([]byte, error) {
	w := p.Window(now)
	target, err := p.URL(w)
	if err != nil {
		return nil, queryError(err, StageRequest, "invalid query url")
	}

	headers := map[string]string{"Accept": "application/json"}
	if auth := p.conn.BasicAuth(); auth != "" {
		headers["Authorization"] = auth
	}

	resp, err := p.client.Get(ctx, target, headers)
	if err != nil {
		return nil, queryError(err, StageTransport, "range query failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.ErrorTypeQuery, "range query returned status %d", resp.StatusCode).
			WithDetail("stage", StageStatus).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", excerpt(body))
	}
	if err != nil {
		return nil, queryError(err, StageRead, "reading range query response")
	}

	p.logger.Debug("range query completed",
		zap.Time("start", w.Start),
		zap.Time("end", w.End),
		zap.Int("bytes", len(body)))
	return body, nil
}

func queryError(err error, stage, msg string) error {
	if e, ok := err.(*errors.Error); ok && e.Type == errors.ErrorTypeQuery {
		return e.WithDetail("stage", stage)
	}
	return errors.Wrap(err, errors.ErrorTypeQuery, msg).WithDetail("stage", stage)
}
