package loki

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1700000000, 123)

func TestTailURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		forceTLS bool
		want     string
		wantErr  bool
	}{
		{"http becomes ws", "http://loki:3100", false, "ws://loki:3100/loki/api/v1/tail", false},
		{"https becomes wss", "https://loki.example.com", false, "wss://loki.example.com/loki/api/v1/tail", false},
		{"ws kept", "ws://loki:3100", false, "ws://loki:3100/loki/api/v1/tail", false},
		{"wss kept", "wss://loki:3100", false, "wss://loki:3100/loki/api/v1/tail", false},
		{"force tls", "http://loki:3100", true, "wss://loki:3100/loki/api/v1/tail", false},
		{"path prefix", "https://grafana.example.com/loki-proxy/", false, "wss://grafana.example.com/loki-proxy/loki/api/v1/tail", false},
		{"unsupported scheme", "ftp://loki", false, "", true},
		{"no scheme", "loki:3100", false, "", true},
		{"empty", "", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tail := NewStreamingTail(config.LokiConnection{Endpoint: tt.endpoint}, config.LokiQuery{Selector: `{app="api"}`},
				TailOptions{Limit: config.DefaultTailLimit, ForceTLS: tt.forceTLS})

			got, err := tail.URL(fixedNow)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			u, err := url.Parse(got)
			require.NoError(t, err)
			u.RawQuery = ""
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestTailURLParams(t *testing.T) {
	tail := NewStreamingTail(config.LokiConnection{Endpoint: "http://loki:3100"}, config.LokiQuery{Selector: `{app="api"} |= "error"`},
		TailOptions{Limit: 5000})

	got, err := tail.URL(fixedNow)
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, `{app="api"} |= "error"`, q.Get("query"))
	assert.Equal(t, "5000", q.Get("limit"))
	assert.Equal(t, strconv.FormatInt(fixedNow.UnixNano(), 10), q.Get("start"))

	noLimit := NewStreamingTail(config.LokiConnection{Endpoint: "http://loki:3100"}, config.LokiQuery{Selector: "{}"}, TailOptions{})
	got, err = noLimit.URL(fixedNow)
	require.NoError(t, err)
	assert.NotContains(t, got, "limit=")
}

func TestTailOpenSendsAuthAndStart(t *testing.T) {
	loki := testutil.NewFakeLoki(t)
	conn := config.LokiConnection{Endpoint: loki.URL()}.
		WithUser(config.StringPtr("admin")).
		WithPassword(config.StringPtr("secret"))

	tail := NewStreamingTail(conn, config.LokiQuery{Selector: `{app="api"}`}, TailOptions{
		Limit: 5000,
		Now:   func() time.Time { return fixedNow },
	})

	sub, err := tail.Open(testutil.TestContext(t))
	require.NoError(t, err)
	defer sub.Close()

	reqs := loki.TailRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, `{app="api"}`, reqs[0].Query.Get("query"))
	assert.Equal(t, strconv.FormatInt(fixedNow.UnixNano(), 10), reqs[0].Query.Get("start"))
}

func TestTailOpenWithoutCredentials(t *testing.T) {
	loki := testutil.NewFakeLoki(t)
	tail := NewStreamingTail(config.LokiConnection{Endpoint: loki.URL()}, config.LokiQuery{Selector: "{}"}, TailOptions{})

	sub, err := tail.Open(testutil.TestContext(t))
	require.NoError(t, err)
	defer sub.Close()

	assert.Empty(t, loki.TailRequests()[0].Header.Get("Authorization"))
}

func TestTailOpenFailures(t *testing.T) {
	t.Run("handshake rejected", func(t *testing.T) {
		loki := testutil.NewFakeLoki(t)
		loki.RejectTail(http.StatusUnauthorized)
		tail := NewStreamingTail(config.LokiConnection{Endpoint: loki.URL()}, config.LokiQuery{Selector: "{}"}, TailOptions{})

		_, err := tail.Open(testutil.TestContext(t))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

		var e *errors.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, http.StatusUnauthorized, e.Details["status"])
	})

	t.Run("nothing listening", func(t *testing.T) {
		tail := NewStreamingTail(config.LokiConnection{Endpoint: "http://127.0.0.1:1"}, config.LokiQuery{Selector: "{}"}, TailOptions{})
		_, err := tail.Open(testutil.TestContext(t))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	})

	t.Run("bad scheme", func(t *testing.T) {
		tail := NewStreamingTail(config.LokiConnection{Endpoint: "ftp://loki"}, config.LokiQuery{Selector: "{}"}, TailOptions{})
		_, err := tail.Open(testutil.TestContext(t))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	})

	t.Run("no endpoint", func(t *testing.T) {
		tail := NewStreamingTail(config.LokiConnection{}, config.LokiQuery{Selector: "{}"}, TailOptions{})
		_, err := tail.Open(testutil.TestContext(t))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	})
}

func TestTailSubscriptionReadsThenFaults(t *testing.T) {
	loki := testutil.NewFakeLoki(t)
	loki.OnTail(func(conn *websocket.Conn, _ int) {
		_ = testutil.Send(conn, []byte{})
		_ = testutil.Send(conn, []byte(`{"streams":[]}`))
	})

	tail := NewStreamingTail(config.LokiConnection{Endpoint: loki.URL()}, config.LokiQuery{Selector: "{}"}, TailOptions{})
	ctx := testutil.TestContext(t)
	sub, err := tail.Open(ctx)
	require.NoError(t, err)
	defer sub.Close()

	payload, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, payload, "heartbeat")

	payload, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"streams":[]}`, string(payload))

	_, err = sub.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStream))
	assert.False(t, errors.IsFatal(err))
}

func TestTailSubscriptionCancel(t *testing.T) {
	loki := testutil.NewFakeLoki(t)
	tail := NewStreamingTail(config.LokiConnection{Endpoint: loki.URL()}, config.LokiQuery{Selector: "{}"}, TailOptions{})

	sub, err := tail.Open(testutil.TestContext(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sub.Next(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after cancel")
	}

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close(), "close is idempotent")
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeTail, "tail": ModeTail, "POLL": ModePoll, " poll ": ModePoll} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("push")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
