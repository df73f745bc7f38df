// Package api implements the localhost HTTP interface the launcher frontend
// consumes: read access to the directory, write access to server records,
// and control over the synchronization scheduler.
package api

import (
	"net/http"

	"github.com/cespare/xxhash/v2"
	"github.com/dssb/beacon/internal/config"
	"github.com/dssb/beacon/internal/directory"
	"github.com/dssb/beacon/internal/geoip"
	"github.com/dssb/beacon/internal/listing"
	"github.com/dssb/beacon/internal/models"
	"github.com/dssb/beacon/internal/storage"
	beaconsync "github.com/dssb/beacon/internal/sync"
	"github.com/dssb/beacon/internal/theme"
)

// Server holds the dependencies required to handle launcher requests.
type Server struct {
	dir    *directory.Directory
	sched  *beaconsync.Scheduler
	loader *listing.Loader
	themes *theme.Fetcher
	geo    *geoip.Provider     // may be nil
	store  *storage.Repository // may be nil

	// tokenHash guards mutating endpoints; zero means auth is disabled
	// (the default for a localhost-only listener).
	tokenHash uint64
}

// ServerView is one directory entry as served to the frontend: the record
// together with its latest status and theme.
type ServerView struct {
	models.ServerRecord
	Status models.LiveStatus `json:"status"`
	Theme  models.ThemeData  `json:"theme"`
}

// New creates an API server instance.
func New(dir *directory.Directory, sched *beaconsync.Scheduler, loader *listing.Loader, themes *theme.Fetcher, geo *geoip.Provider, store *storage.Repository, cfg config.API) *Server {
	s := &Server{
		dir:    dir,
		sched:  sched,
		loader: loader,
		themes: themes,
		geo:    geo,
		store:  store,
	}

	if cfg.AuthToken != "" {
		s.tokenHash = xxhash.Sum64String(cfg.AuthToken)
	}

	return s
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/servers", http.HandlerFunc(s.handleListServers))
	mux.Handle("GET /api/server", http.HandlerFunc(s.handleGetServer))
	mux.Handle("GET /api/theme.css", http.HandlerFunc(s.handleThemeCSS))

	mux.Handle("POST /api/servers", s.AuthMiddleware(http.HandlerFunc(s.handleAddServer)))
	mux.Handle("PUT /api/servers", s.AuthMiddleware(http.HandlerFunc(s.handleUpdateServer)))
	mux.Handle("DELETE /api/servers", s.AuthMiddleware(http.HandlerFunc(s.handleRemoveServer)))

	mux.Handle("POST /api/sync", s.AuthMiddleware(http.HandlerFunc(s.handleTriggerSync)))
	mux.Handle("POST /api/listing/refresh", s.AuthMiddleware(http.HandlerFunc(s.handleListingRefresh)))

	mux.Handle("GET /api/health", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /api/version", http.HandlerFunc(s.handleVersion))

	return s.LoggingMiddleware(mux)
}

// view assembles the full ServerView for one record.
func (s *Server) view(rec models.ServerRecord) ServerView {
	status, _ := s.dir.GetStatus(rec.ID)
	td, _ := s.dir.GetTheme(rec.ID)

	return ServerView{ServerRecord: rec, Status: status, Theme: td}
}
