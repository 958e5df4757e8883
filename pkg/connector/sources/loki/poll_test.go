package loki

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/ajitpratap0/lokitail/pkg/clients"
	"github.com/ajitpratap0/lokitail/pkg/config"
	"github.com/ajitpratap0/lokitail/pkg/errors"
	"github.com/ajitpratap0/lokitail/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoll(t *testing.T, endpoint string, conn config.LokiConnection) *WindowedPoll {
	conn.Endpoint = endpoint
	return NewWindowedPoll(conn, config.LokiQuery{Selector: `{app="api"}`}, PollOptions{
		Window: 10 * time.Second,
		Client: clients.NewHTTPClient(clients.DefaultHTTPConfig(), testutil.TestLogger(t)),
		Logger: testutil.TestLogger(t),
	})
}

func TestPollWindow(t *testing.T) {
	p := newTestPoll(t, "http://loki:3100", config.LokiConnection{})
	w := p.Window(fixedNow)
	assert.Equal(t, fixedNow, w.End)
	assert.Equal(t, fixedNow.Add(-10*time.Second), w.Start)

	later := p.Window(fixedNow.Add(10 * time.Second))
	assert.Equal(t, w.End, later.Start, "consecutive windows abut")
}

func TestPollURL(t *testing.T) {
	tests := []struct {
		endpoint string
		prefix   string
	}{
		{"http://loki:3100", "http://loki:3100/loki/api/v1/query_range?"},
		{"https://loki:3100/", "https://loki:3100/loki/api/v1/query_range?"},
		{"ws://loki:3100", "http://loki:3100/loki/api/v1/query_range?"},
		{"wss://loki:3100", "https://loki:3100/loki/api/v1/query_range?"},
	}
	for _, tt := range tests {
		p := newTestPoll(t, tt.endpoint, config.LokiConnection{})
		got, err := p.URL(p.Window(fixedNow))
		require.NoError(t, err)
		assert.Contains(t, got, tt.prefix)
	}

	_, err := newTestPoll(t, "ftp://loki", config.LokiConnection{}).URL(TimeWindow{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
}

func TestPollTick(t *testing.T) {
	loki := testutil.NewFakeLoki(t)
	body := testutil.RangeResponse(testutil.Stream{
		Labels: map[string]string{"app": "api"},
		Values: [][2]string{{"1", "hello"}},
	})
	loki.OnQueryRange(func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, body)
	})

	p := newTestPoll(t, loki.URL(), config.LokiConnection{User: config.StringPtr("admin")})
	got, err := p.Tick(testutil.TestContext(t), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	reqs := loki.RangeRequests()
	require.Len(t, reqs, 1)
	q := reqs[0].Query
	assert.Equal(t, `{app="api"}`, q.Get("query"))
	assert.Equal(t, "forward", q.Get("direction"))
	assert.Equal(t, strconv.FormatInt(fixedNow.UnixNano(), 10), q.Get("end"))
	assert.Equal(t, strconv.FormatInt(fixedNow.Add(-10*time.Second).UnixNano(), 10), q.Get("start"))
	assert.Equal(t, "Basic YWRtaW46", reqs[0].Header.Get("Authorization"))
}

func TestPollTickFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		loki := testutil.NewFakeLoki(t)
		loki.OnQueryRange(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "parse error at line 1", http.StatusBadRequest)
		})

		_, err := newTestPoll(t, loki.URL(), config.LokiConnection{}).Tick(testutil.TestContext(t), fixedNow)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
		assert.False(t, errors.IsFatal(err))
		assert.Equal(t, StageStatus, stageOf(err))
		assert.Contains(t, err.Error(), "400")
	})

	t.Run("transport", func(t *testing.T) {
		_, err := newTestPoll(t, "http://127.0.0.1:1", config.LokiConnection{}).Tick(testutil.TestContext(t), fixedNow)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
		assert.Equal(t, StageTransport, stageOf(err))
	})

	t.Run("request", func(t *testing.T) {
		_, err := newTestPoll(t, "", config.LokiConnection{}).Tick(testutil.TestContext(t), fixedNow)
		require.Error(t, err)
		assert.Equal(t, StageRequest, stageOf(err))
	})
}
