// Package directory holds the authoritative in-memory registry of server
// records and their latest known status and theme. All background writers
// go through the Apply* methods; readers always see a consistent snapshot.
package directory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dssb/beacon/internal/models"
	"github.com/dssb/beacon/internal/theme"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrDuplicate is returned when a record for the same host and port already
// exists.
var ErrDuplicate = errors.New("server already registered")

type entry struct {
	rec    models.ServerRecord
	status models.LiveStatus
	theme  models.ThemeData
}

// Directory is the single owner of all server records. Safe for concurrent
// use; mutations are atomic with respect to readers.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{entries: make(map[string]*entry)}
}

// Add registers a new record. A missing ID is assigned, a zero AddedAt is
// stamped. The record starts Unknown with the default theme.
func (d *Directory) Add(rec models.ServerRecord) (models.ServerRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AddedAt.IsZero() {
		rec.AddedAt = time.Now()
	}
	if rec.Source == "" {
		rec.Source = models.SourceManual
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.entries {
		if e.rec.Host == rec.Host && e.rec.Port == rec.Port {
			return models.ServerRecord{}, ErrDuplicate
		}
	}

	d.entries[rec.ID] = &entry{
		rec:    rec,
		status: models.LiveStatus{State: models.StateUnknown},
		theme:  theme.Default(),
	}

	log.Info().
		Str("id", rec.ID).
		Str("host", rec.Host).
		Int("port", rec.Port).
		Str("source", string(rec.Source)).
		Msg("Server added")

	return rec, nil
}

// Seed inserts a record restored from persistence together with its last
// known snapshot. The state is Unknown (no poll has succeeded this run) but
// the stale player count and last-seen time remain visible.
func (d *Directory) Seed(rec models.ServerRecord, status models.LiveStatus) {
	status.State = models.StateUnknown

	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[rec.ID] = &entry{
		rec:    rec,
		status: status,
		theme:  theme.Default(),
	}
}

// Remove deletes a record. In-flight updates for it are discarded when they
// arrive. Returns false if the id is unknown.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[id]; !ok {
		return false
	}
	delete(d.entries, id)

	log.Info().Str("id", id).Msg("Server removed")

	return true
}

// Update replaces the identity fields of an existing record (user edit).
// Status and theme are kept. Returns false if the id is unknown.
func (d *Directory) Update(rec models.ServerRecord) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[rec.ID]
	if !ok {
		return false
	}

	rec.AddedAt = e.rec.AddedAt
	if e.rec.WebsiteURL != rec.WebsiteURL {
		// Theme belongs to the old website, drop it
		e.theme = theme.Default()
	}
	e.rec = rec

	return true
}

// List returns a snapshot of all records ordered by label then host, safe
// to call concurrently with background refreshes.
func (d *Directory) List() []models.ServerRecord {
	d.mu.RLock()
	recs := make([]models.ServerRecord, 0, len(d.entries))
	for _, e := range d.entries {
		recs = append(recs, e.rec)
	}
	d.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Label != recs[j].Label {
			return recs[i].Label < recs[j].Label
		}
		return recs[i].Host < recs[j].Host
	})

	return recs
}

// Get returns one record by id.
func (d *Directory) Get(id string) (models.ServerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[id]
	if !ok {
		return models.ServerRecord{}, false
	}

	return e.rec, true
}

// Has reports whether a record with the given host and port exists.
func (d *Directory) Has(host string, port int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.entries {
		if e.rec.Host == host && e.rec.Port == port {
			return true
		}
	}

	return false
}

// GetStatus returns the latest status for one record.
func (d *Directory) GetStatus(id string) (models.LiveStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[id]
	if !ok {
		return models.LiveStatus{}, false
	}

	return e.status, true
}

// GetTheme returns the latest theme for one record.
func (d *Directory) GetTheme(id string) (models.ThemeData, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[id]
	if !ok {
		return models.ThemeData{}, false
	}

	return e.theme.Clone(), true
}

// ApplyStatusUpdate merges a poll result. Updates for removed ids are
// silently discarded; an update older than the stored one is ignored, so
// out-of-order arrival cannot regress a fresher status. A failed poll keeps
// the last Online/Offline snapshot visible instead of reverting to Unknown.
func (d *Directory) ApplyStatusUpdate(id string, status models.LiveStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		return
	}
	if status.CheckedAt.Before(e.status.CheckedAt) {
		return
	}

	if status.State == models.StateError {
		prev := e.status
		if prev.State == models.StateOnline || prev.State == models.StateOffline || !prev.LastSeenAt.IsZero() {
			status.Players = prev.Players
			status.MaxPlayers = prev.MaxPlayers
			status.LatencyMs = prev.LatencyMs
			status.LastSeenAt = prev.LastSeenAt
		}
	}

	e.status = status
}

// ApplyThemeUpdate merges a theme fetch result, same discard and recency
// rules as ApplyStatusUpdate.
func (d *Directory) ApplyThemeUpdate(id string, td models.ThemeData) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		return
	}
	if td.FetchedAt.Before(e.theme.FetchedAt) {
		return
	}

	e.theme = td.Clone()
}

// Len returns the number of registered servers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.entries)
}
