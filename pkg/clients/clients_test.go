package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTokenBucketAllow(t *testing.T) {
	rl := NewTokenBucketRateLimiter(1, 2)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "burst exhausted")

	stats := rl.GetStats()
	assert.Equal(t, int64(2), stats.AllowedRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
	assert.Equal(t, 2, stats.Burst)
}

func TestTokenBucketWaitRefills(t *testing.T) {
	rl := NewTokenBucketRateLimiter(100, 1)
	require.True(t, rl.Allow())

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	rl := NewTokenBucketRateLimiter(0.001, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), rl.GetStats().BlockedRequests)
}

func TestHTTPClientGet(t *testing.T) {
	var gotUA, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	defer c.Close()

	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"Authorization": "Basic eDo="})
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, "ok", string(body))
	assert.Equal(t, UserAgent, gotUA)
	assert.Equal(t, "Basic eDo=", gotAuth)
	assert.Equal(t, HTTPStats{TotalRequests: 1, SuccessRate: 100}, c.GetStats())
}

func TestHTTPClientTransportFailureCounted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(nil, nil)
	_, err := c.Get(context.Background(), url, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), c.GetStats().FailedRequests)
}

func TestHTTPClientRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	c := NewHTTPClient(cfg, nil)

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
