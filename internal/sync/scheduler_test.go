package sync

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dssb/beacon/internal/config"
	"github.com/dssb/beacon/internal/directory"
	"github.com/dssb/beacon/internal/fetch"
	"github.com/dssb/beacon/internal/heartbeat"
	"github.com/dssb/beacon/internal/models"
	"github.com/dssb/beacon/internal/storage"
	"github.com/dssb/beacon/internal/theme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScheduler(dir *directory.Directory, workers int) *Scheduler {
	client := fetch.NewClient("test")
	poller := heartbeat.NewPoller(client, config.Heartbeat{Timeout: 2 * time.Second, BufferSize: 1400})
	themes := theme.NewFetcher(client, 256, 10*time.Minute, 2*time.Second)

	return New(dir, poller, themes, nil, config.Sync{
		Interval: time.Hour,
		Workers:  workers,
		Rate:     10000,
	})
}

func hostPort(t *testing.T, ts *httptest.Server) (string, int) {
	t.Helper()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port
}

func TestRoundMergesStatusAndTheme(t *testing.T) {
	heartbeatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"players": 7, "max_players": 40}`))
	}))
	defer heartbeatSrv.Close()

	websiteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`:root { --bsb-primary: #2f9f5f; }`))
	}))
	defer websiteSrv.Close()

	host, port := hostPort(t, heartbeatSrv)

	deadSrv := httptest.NewServer(http.NewServeMux())
	deadHost, deadPort := hostPort(t, deadSrv)
	deadSrv.Close()

	dir := directory.New()
	recA, err := dir.Add(models.ServerRecord{Label: "A", Host: host, Port: port})
	require.NoError(t, err)
	recB, err := dir.Add(models.ServerRecord{Label: "B", Host: deadHost, Port: deadPort, WebsiteURL: websiteSrv.URL})
	require.NoError(t, err)

	s := testScheduler(dir, 4)
	s.runRound(context.Background())

	// A: heartbeat answers, no website, all-default theme
	statusA, _ := dir.GetStatus(recA.ID)
	assert.Equal(t, models.StateOnline, statusA.State)
	assert.Equal(t, 7, statusA.Players)

	themeA, _ := dir.GetTheme(recA.ID)
	assert.Equal(t, theme.Default().Colors, themeA.Colors)
	assert.Equal(t, models.ThemeDefault, themeA.Source)

	// B: dead heartbeat port, but the website still themes it
	statusB, _ := dir.GetStatus(recB.ID)
	assert.Equal(t, models.StateError, statusB.State)

	themeB, _ := dir.GetTheme(recB.ID)
	assert.Equal(t, "#2f9f5f", themeB.Colors["primary"])
	for _, key := range theme.RecognizedKeys {
		if key == "primary" {
			continue
		}
		assert.Equal(t, theme.Default().Colors[key], themeB.Colors[key], "key %s", key)
	}
}

func TestRoundConcurrencyCap(t *testing.T) {
	const workers = 3
	const servers = 12

	var inflight, peak atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inflight.Add(-1)
		_, _ = w.Write([]byte(`{"players": 1}`))
	}))
	defer ts.Close()

	host, port := hostPort(t, ts)

	dir := directory.New()
	for i := 0; i < servers; i++ {
		dir.Seed(models.ServerRecord{ID: "srv-" + strconv.Itoa(i), Host: host, Port: port}, models.LiveStatus{})
	}

	s := testScheduler(dir, workers)
	s.runRound(context.Background())

	assert.LessOrEqual(t, peak.Load(), int64(workers), "in-flight requests must never exceed the worker cap")

	for i := 0; i < servers; i++ {
		status, ok := dir.GetStatus("srv-" + strconv.Itoa(i))
		require.True(t, ok)
		assert.Equal(t, models.StateOnline, status.State)
	}
}

func TestRemoveMidRound(t *testing.T) {
	started := make(chan struct{}, 16)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"players": 5}`))
	}))
	defer ts.Close()

	host, port := hostPort(t, ts)

	// two records on the same endpoint, seeded to sidestep the duplicate check
	dir := directory.New()
	recA := models.ServerRecord{ID: "a-mid-round", Label: "A", Host: host, Port: port}
	recB := models.ServerRecord{ID: "b-mid-round", Label: "B", Host: host, Port: port}
	dir.Seed(recA, models.LiveStatus{})
	dir.Seed(recB, models.LiveStatus{})

	done := make(chan struct{})
	s := testScheduler(dir, 4)
	go func() {
		s.runRound(context.Background())
		close(done)
	}()

	// wait until B's poll is in flight, then remove it
	<-started
	require.True(t, dir.Remove(recB.ID))
	close(release)
	<-done

	for _, rec := range dir.List() {
		assert.NotEqual(t, recB.ID, rec.ID, "removed server must not reappear")
	}
	_, ok := dir.GetStatus(recB.ID)
	assert.False(t, ok, "no update for a removed server is observable")
}

func TestTriggerSyncRunsRound(t *testing.T) {
	var polls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		_, _ = w.Write([]byte(`{"players": 2}`))
	}))
	defer ts.Close()

	host, port := hostPort(t, ts)

	dir := directory.New()
	rec, err := dir.Add(models.ServerRecord{Label: "A", Host: host, Port: port})
	require.NoError(t, err)

	s := testScheduler(dir, 2)
	s.Start(context.Background())
	defer s.Stop()

	// first round runs immediately on start
	require.Eventually(t, func() bool {
		status, _ := dir.GetStatus(rec.ID)
		return status.State == models.StateOnline
	}, 3*time.Second, 10*time.Millisecond)

	before := polls.Load()
	s.TriggerSync()

	require.Eventually(t, func() bool {
		return polls.Load() > before
	}, 3*time.Second, 10*time.Millisecond, "TriggerSync must run another round before the interval elapses")
}

func TestTriggerSyncCoalesces(t *testing.T) {
	s := testScheduler(directory.New(), 2)

	// never started: repeated triggers must not block
	for i := 0; i < 10; i++ {
		s.TriggerSync()
	}
}

func TestStopCancelsInFlight(t *testing.T) {
	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer func() {
		close(release)
		ts.Close()
	}()

	host, port := hostPort(t, ts)

	dir := directory.New()
	_, err := dir.Add(models.ServerRecord{Label: "A", Host: host, Port: port})
	require.NoError(t, err)

	s := testScheduler(dir, 2)
	s.Start(context.Background())

	<-entered

	start := time.Now()
	s.Stop()

	assert.Less(t, time.Since(start), 3*time.Second, "Stop must cancel in-flight work promptly")
}

func TestStopDiscardsCancelledResults(t *testing.T) {
	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer func() {
		close(release)
		ts.Close()
	}()

	host, port := hostPort(t, ts)

	repo, err := storage.New(filepath.Join(t.TempDir(), "beacon.db"))
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	dir := directory.New()
	rec, err := dir.Add(models.ServerRecord{Label: "A", Host: host, Port: port})
	require.NoError(t, err)
	require.NoError(t, repo.UpsertServer(rec))

	client := fetch.NewClient("test")
	poller := heartbeat.NewPoller(client, config.Heartbeat{Timeout: 5 * time.Second, BufferSize: 1400})
	themes := theme.NewFetcher(client, 256, 10*time.Minute, time.Second)
	s := New(dir, poller, themes, repo, config.Sync{Interval: time.Hour, Workers: 2, Rate: 100})

	s.Start(context.Background())
	<-entered
	s.Stop()

	// the aborted poll is not a server failure: the status stays Unknown
	status, ok := dir.GetStatus(rec.ID)
	require.True(t, ok)
	assert.Equal(t, models.StateUnknown, status.State)
	assert.Empty(t, status.Reason)

	// and no phantom failure is persisted
	stored, err := repo.GetServers()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Zero(t, stored[0].QueryFailures)
}

func TestStartStopIdempotent(t *testing.T) {
	s := testScheduler(directory.New(), 2)

	s.Stop() // before Start: safe no-op
	s.Start(context.Background())
	s.Start(context.Background()) // second start: no-op
	s.Stop()
	s.Stop() // second stop: no-op
}
