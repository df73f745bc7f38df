// Package sync drives refresh rounds over the server directory: a bounded
// worker pool polls every server and refreshes its theme, merging results
// into the directory as they land.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/dssb/beacon/internal/config"
	"github.com/dssb/beacon/internal/directory"
	"github.com/dssb/beacon/internal/heartbeat"
	"github.com/dssb/beacon/internal/models"
	"github.com/dssb/beacon/internal/storage"
	"github.com/dssb/beacon/internal/theme"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type jobKind int

const (
	jobPoll jobKind = iota
	jobTheme
)

type job struct {
	rec  models.ServerRecord
	kind jobKind
}

// Scheduler owns the refresh cadence and cancellation of in-flight work.
// Concurrency is bounded by a fixed worker pool shared across poll and
// theme jobs, with an outbound rate limiter on top so a large directory
// cannot exhaust sockets.
type Scheduler struct {
	dir     *directory.Directory
	poller  *heartbeat.Poller
	themes  *theme.Fetcher
	store   *storage.Repository // optional write-back, may be nil
	limiter *rate.Limiter

	interval time.Duration
	workers  int

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a scheduler. store may be nil to disable snapshot write-back.
func New(dir *directory.Directory, poller *heartbeat.Poller, themes *theme.Fetcher, store *storage.Repository, cfg config.Sync) *Scheduler {
	return &Scheduler{
		dir:      dir,
		poller:   poller,
		themes:   themes,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Workers),
		interval: cfg.Interval,
		workers:  cfg.Workers,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the periodic sync loop in a background goroutine. The
// first round runs immediately. Idempotent; a no-op after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		s.runRound(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runRound(ctx)
			case <-s.trigger:
				s.runRound(ctx)
			}
		}
	}()
}

// TriggerSync requests an immediate refresh round. Requests coalesce: while
// a round is in progress at most one further round is queued, so repeated
// triggers can never stack unbounded overlapping rounds.
func (s *Scheduler) TriggerSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels in-flight requests and waits for the loop and all workers to
// finish. Idempotent; safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// runRound snapshots the current server list and refreshes every record.
// Results merge into the directory one by one, so the UI sees servers
// update individually rather than all at once when the round completes.
func (s *Scheduler) runRound(ctx context.Context) {
	recs := s.dir.List()
	if len(recs) == 0 {
		return
	}

	start := time.Now()
	log.Debug().Int("servers", len(recs)).Msg("Refresh round started")

	// Fully buffered: jobs are all enqueued before workers may exit, so
	// cancellation cannot strand the producer.
	jobs := make(chan job, len(recs)*2)
	for _, rec := range recs {
		jobs <- job{rec: rec, kind: jobPoll}
		jobs <- job{rec: rec, kind: jobTheme}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
				s.process(ctx, j)
			}
		}()
	}
	wg.Wait()

	log.Debug().
		Int("servers", len(recs)).
		Dur("duration", time.Since(start)).
		Msg("Refresh round finished")
}

// process executes one job and merges its result. Failures stay contained
// within the affected server's update.
func (s *Scheduler) process(ctx context.Context, j job) {
	switch j.kind {
	case jobPoll:
		status := s.poller.Poll(ctx, j.rec)

		// A poll aborted by shutdown reports a cancellation error, not a
		// server failure. Merging or persisting it would count phantom
		// failures against healthy servers, so the result is discarded.
		if ctx.Err() != nil {
			return
		}

		s.dir.ApplyStatusUpdate(j.rec.ID, status)

		if s.store != nil && status.State != models.StateUnknown {
			if err := s.store.SaveSnapshot(j.rec.ID, status); err != nil {
				log.Error().Err(err).Str("id", j.rec.ID).Msg("Failed to persist status snapshot")
			}
		}

	case jobTheme:
		td, err := s.themes.FetchTheme(ctx, j.rec)
		if err != nil {
			// Previous theme (cached or default) stays in place
			log.Debug().Err(err).Str("id", j.rec.ID).Msg("Theme fetch failed, keeping previous")
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.dir.ApplyThemeUpdate(j.rec.ID, td)
	}
}
