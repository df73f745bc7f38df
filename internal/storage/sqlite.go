// Package storage persists the server directory in SQLite so a restarted
// launcher shows stale-but-real data instead of an empty list.
package storage

import (
	"database/sql"
	"time"

	"github.com/dssb/beacon/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// StoredServer is one persisted record together with its last successful
// poll snapshot.
type StoredServer struct {
	Record        models.ServerRecord
	Players       int
	MaxPlayers    int
	LatencyMs     int64
	LastSeen      time.Time
	QueryFailures int
}

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// UpsertServer inserts a new record or updates an existing one identified by
// host and port. Identity fields follow the latest edit; a manual entry is
// never downgraded to an imported one.
func (r *Repository) UpsertServer(rec models.ServerRecord) error {
	query := `
	INSERT INTO servers (
		id, label, host, port, website, platform, source,
		trusted, important, country_code, added_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(host, port) DO UPDATE SET
		label = excluded.label,
		website = excluded.website,
		platform = excluded.platform,
		trusted = excluded.trusted,
		important = excluded.important,

		-- A record added by hand stays manual even when the master list
		-- re-imports it
		source = CASE
			WHEN servers.source = 'manual' THEN 'manual'
			ELSE excluded.source
		END,

		-- Keep a known country if the new record has none
		country_code = CASE WHEN excluded.country_code != '' THEN excluded.country_code ELSE servers.country_code END;
	`

	_, err := r.db.Exec(query,
		rec.ID, rec.Label, rec.Host, rec.Port, rec.WebsiteURL, string(rec.Platform), string(rec.Source),
		rec.Trusted, rec.Important, rec.CountryCode, rec.AddedAt,
	)

	return err
}

// SaveSnapshot writes back the last successful poll result for one record.
func (r *Repository) SaveSnapshot(id string, status models.LiveStatus) error {
	if status.State == models.StateOnline {
		_, err := r.db.Exec(`
			UPDATE servers
			SET players = ?, max_players = ?, latency_ms = ?, last_seen = ?, query_failures = 0
			WHERE id = ?
		`, status.Players, status.MaxPlayers, status.LatencyMs, status.LastSeenAt, id)

		return err
	}

	_, err := r.db.Exec(`
		UPDATE servers
		SET query_failures = query_failures + 1
		WHERE id = ?
	`, id)

	return err
}

// DeleteServer removes one record by id.
func (r *Repository) DeleteServer(id string) error {
	_, err := r.db.Exec(`DELETE FROM servers WHERE id = ?`, id)
	return err
}

// GetServers retrieves all persisted records with their last snapshots,
// sorted by the last seen timestamp in descending order.
func (r *Repository) GetServers() ([]StoredServer, error) {
	rows, err := r.db.Query(`
		SELECT id, label, host, port, website, platform, source,
		       trusted, important, country_code, added_at,
		       players, max_players, latency_ms, last_seen, query_failures
		FROM servers
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var servers []StoredServer
	for rows.Next() {
		var s StoredServer
		var platform, source string
		var lastSeen sql.NullTime

		if err := rows.Scan(
			&s.Record.ID, &s.Record.Label, &s.Record.Host, &s.Record.Port,
			&s.Record.WebsiteURL, &platform, &source,
			&s.Record.Trusted, &s.Record.Important, &s.Record.CountryCode, &s.Record.AddedAt,
			&s.Players, &s.MaxPlayers, &s.LatencyMs, &lastSeen, &s.QueryFailures,
		); err != nil {
			continue
		}

		s.Record.Platform = models.Platform(platform)
		s.Record.Source = models.Source(source)
		if lastSeen.Valid {
			s.LastSeen = lastSeen.Time
		}

		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return servers, nil
}

// DeleteFailedImports removes imported records whose validation has failed
// more than maxFailures consecutive times and returns the removed ids, so
// the caller can evict the same records from the live directory. Manual
// entries are never pruned.
func (r *Repository) DeleteFailedImports(maxFailures int) ([]string, error) {
	rows, err := r.db.Query(`
		DELETE FROM servers
		WHERE source = 'imported' AND query_failures > ?
		RETURNING id
	`, maxFailures)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
