// Package listing imports community servers from the master list: it
// fetches the published JSON feed, validates every candidate with a live
// heartbeat query, and registers the responsive ones in the directory.
package listing

import (
	"context"
	"sync"
	"time"

	"github.com/dssb/beacon/internal/config"
	"github.com/dssb/beacon/internal/directory"
	"github.com/dssb/beacon/internal/fetch"
	"github.com/dssb/beacon/internal/heartbeat"
	"github.com/dssb/beacon/internal/models"
	"github.com/dssb/beacon/internal/storage"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// fetchTimeout bounds the master list download itself.
const fetchTimeout = 5 * time.Second

// maxImportFailures is how many consecutive failed validations an imported
// server survives before it is pruned from persistence.
const maxImportFailures = 5

// Entry is one row of the master list feed.
type Entry struct {
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Website   string `json:"website,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Trusted   bool   `json:"trusted,omitempty"`
	Important bool   `json:"important,omitempty"`
}

// Loader periodically synchronizes the directory with the master list.
type Loader struct {
	dir    *directory.Directory
	poller *heartbeat.Poller
	client *fetch.Client
	store  *storage.Repository // may be nil

	url      string
	interval time.Duration
	workers  int

	refresh chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New creates a loader. A loader with an empty URL is inert: Refresh and
// Start become no-ops, matching a launcher configured without a community
// list.
func New(dir *directory.Directory, poller *heartbeat.Poller, client *fetch.Client, store *storage.Repository, cfg config.Listing) *Loader {
	return &Loader{
		dir:      dir,
		poller:   poller,
		client:   client,
		store:    store,
		url:      cfg.URL,
		interval: cfg.Interval,
		workers:  cfg.Workers,
		refresh:  make(chan struct{}, 1),
	}
}

// Start runs Refresh periodically until the context is cancelled.
func (l *Loader) Start(ctx context.Context) {
	if l.url == "" {
		return
	}

	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()

		l.Refresh(ctx)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Refresh(ctx)
			case <-l.refresh:
				l.Refresh(ctx)
			}
		}
	}()
}

// TriggerRefresh requests an immediate master list import on the running
// loop. Requests coalesce: while an import is in progress at most one
// further import is queued. A loader that was never started ignores them.
func (l *Loader) TriggerRefresh() {
	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

// Stop cancels a running refresh loop and waits for it to finish.
func (l *Loader) Stop() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	l.wg.Wait()
}

// Refresh fetches the master list once and validates every candidate with a
// bounded worker pool. Failures are logged and counted, never fatal.
func (l *Loader) Refresh(ctx context.Context) (added, failed int) {
	if l.url == "" {
		return 0, 0
	}

	entries, err := l.fetchList(ctx)
	if err != nil {
		log.Error().Err(err).Str("url", l.url).Msg("Failed to fetch master list")
		return 0, 0
	}
	if len(entries) == 0 {
		log.Info().Str("url", l.url).Msg("Master list is empty")
		return 0, 0
	}

	log.Info().Int("count", len(entries)).Msg("Validating master list servers...")

	jobs := make(chan Entry, len(entries))
	for _, e := range entries {
		jobs <- e
	}
	close(jobs)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				if ctx.Err() != nil {
					return
				}
				if l.validateAndAdd(ctx, entry) {
					mu.Lock()
					added++
					mu.Unlock()
				} else {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if l.store != nil {
		pruned, err := l.store.DeleteFailedImports(maxImportFailures)
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune dead imports")
		}
		// Evict pruned records from the live directory too, otherwise the
		// scheduler keeps polling them until restart
		for _, id := range pruned {
			if l.dir.Remove(id) {
				log.Info().Str("id", id).Msg("Dead imported server removed")
			}
		}
	}

	log.Info().Int("validated", added).Int("failed", failed).Msg("Master list refresh complete")

	return added, failed
}

// fetchList downloads and decodes the feed.
func (l *Loader) fetchList(ctx context.Context) ([]Entry, error) {
	body, err := l.client.Fetch(ctx, l.url, fetchTimeout)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// validateAndAdd polls one candidate and registers it when it answers. An
// entry already present in the directory is only revalidated, not re-added.
func (l *Loader) validateAndAdd(ctx context.Context, entry Entry) bool {
	if entry.IP == "" || entry.Port <= 0 || entry.Port > 65535 {
		return false
	}

	rec := models.ServerRecord{
		Label:      entry.IP,
		Host:       entry.IP,
		Port:       entry.Port,
		WebsiteURL: entry.Website,
		Platform:   models.Platform(entry.Platform),
		Source:     models.SourceImported,
		Trusted:    entry.Trusted,
		Important:  entry.Important,
	}

	status := l.poller.Poll(ctx, rec)
	if status.State != models.StateOnline && status.State != models.StateOffline {
		log.Debug().
			Str("host", entry.IP).
			Int("port", entry.Port).
			Str("reason", status.Reason).
			Msg("Master list server failed validation")

		return false
	}

	if l.dir.Has(rec.Host, rec.Port) {
		return true
	}

	added, err := l.dir.Add(rec)
	if err != nil {
		return false
	}
	l.dir.ApplyStatusUpdate(added.ID, status)

	if l.store != nil {
		if err := l.store.UpsertServer(added); err != nil {
			log.Error().Err(err).Str("id", added.ID).Msg("Failed to persist imported server")
		}
	}

	return true
}
