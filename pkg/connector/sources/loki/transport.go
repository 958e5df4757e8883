package loki

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/errors"
)

// Loki HTTP API paths
const (
	tailPath       = "/loki/api/v1/tail"
	queryRangePath = "/loki/api/v1/query_range"
)

// Mode selects how the source acquires log lines. It is fixed for the
// lifetime of a source.
type Mode string

const (
	// ModeTail keeps a websocket tail subscription open
	ModeTail Mode = "tail"
	// ModePoll re-issues a range query over a sliding window on every tick
	ModePoll Mode = "poll"
)

// ParseMode parses a mode name. An empty name selects ModeTail.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeTail:
		return ModeTail, nil
	case ModePoll:
		return ModePoll, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown loki mode %q (want tail or poll)", s)
	}
}

// Subscription is an open tail. Next blocks until the next message arrives.
// An empty payload is a heartbeat.
type Subscription interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Subscriber opens tail subscriptions. Every call starts a new subscription
// anchored at the current time.
type Subscriber interface {
	Open(ctx context.Context) (Subscription, error)
}

// Poller runs one windowed range query ending at now
type Poller interface {
	Tick(ctx context.Context, now time.Time) ([]byte, error)
}

// TimeWindow is the closed interval a poll tick queries
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// endpointURL joins endpoint and path. The endpoint may carry a path prefix
// when Loki sits behind a reverse proxy.
func endpointURL(endpoint, path string) (*url.URL, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q does not parse: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q needs a scheme and host", endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawPath = ""
	return u, nil
}

func unixNano(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}
