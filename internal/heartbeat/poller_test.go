package heartbeat

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/dssb/beacon/internal/config"
	"github.com/dssb/beacon/internal/fetch"
	"github.com/dssb/beacon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(timeout time.Duration) *Poller {
	return NewPoller(fetch.NewClient("test"), config.Heartbeat{Timeout: timeout, BufferSize: 1400})
}

// recordFor builds a ServerRecord pointing at a httptest server.
func recordFor(t *testing.T, ts *httptest.Server) models.ServerRecord {
	t.Helper()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return models.ServerRecord{ID: "test", Host: host, Port: port}
}

func TestPollOnline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"players": 8, "max_players": 32}`))
	}))
	defer ts.Close()

	p := newTestPoller(2 * time.Second)

	status := p.Poll(context.Background(), recordFor(t, ts))

	assert.Equal(t, models.StateOnline, status.State)
	assert.Equal(t, 8, status.Players)
	assert.Equal(t, 32, status.MaxPlayers)
	assert.GreaterOrEqual(t, status.LatencyMs, int64(0))
	assert.False(t, status.LastSeenAt.IsZero())
	assert.False(t, status.CheckedAt.IsZero())
}

func TestPollOfflinePayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"players": 4, "status": "offline"}`))
	}))
	defer ts.Close()

	p := newTestPoller(2 * time.Second)

	status := p.Poll(context.Background(), recordFor(t, ts))

	assert.Equal(t, models.StateOffline, status.State)
	assert.Zero(t, status.Players, "a server declaring itself down has no players")
}

func TestPollMalformedPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>definitely not a heartbeat</html>"))
	}))
	defer ts.Close()

	p := newTestPoller(2 * time.Second)

	status := p.Poll(context.Background(), recordFor(t, ts))

	assert.Equal(t, models.StateError, status.State)
	assert.Equal(t, "malformed payload", status.Reason)
}

func TestPollTimeoutBound(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		ts.Close()
	}()

	p := newTestPoller(100 * time.Millisecond)

	start := time.Now()
	status := p.Poll(context.Background(), recordFor(t, ts))
	elapsed := time.Since(start)

	assert.Equal(t, models.StateError, status.State)
	assert.Equal(t, "timeout", status.Reason)
	assert.Less(t, elapsed, time.Second, "poll must not block past the configured timeout")
}

func TestPollConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := recordFor(t, ts)
	ts.Close()

	p := newTestPoller(time.Second)

	status := p.Poll(context.Background(), rec)

	assert.Equal(t, models.StateError, status.State)
	assert.Equal(t, "connection refused", status.Reason)
}

func TestPollCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPoller(time.Second)

	status := p.Poll(ctx, models.ServerRecord{ID: "x", Host: "127.0.0.1", Port: 1})

	assert.Equal(t, models.StateError, status.State)
}
