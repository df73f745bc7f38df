package api

import (
	"errors"
	"net/http"

	"github.com/dssb/beacon/internal/directory"
	"github.com/dssb/beacon/internal/models"
	"github.com/dssb/beacon/internal/theme"
	"github.com/dssb/beacon/internal/vars"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// maxRequestBody caps mutating request payloads.
const maxRequestBody = 16 * 1024

// handleListServers returns every directory entry with status and theme.
func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	recs := s.dir.List()

	views := make([]ServerView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.view(rec))
	}

	writeJSON(w, http.StatusOK, views)
}

// handleGetServer returns one entry. Query params: ?id=<uuid>
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	rec, ok := s.dir.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, s.view(rec))
}

// handleThemeCSS serves one server's theme as a ready-to-inject :root block.
// Query params: ?id=<uuid>
func (s *Server) handleThemeCSS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	td, ok := s.dir.GetTheme(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write([]byte(theme.Serialize(td)))
}

// addServerRequest is the payload for creating or editing a record.
type addServerRequest struct {
	ID         string `json:"id,omitempty"`
	Label      string `json:"label"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	WebsiteURL string `json:"website_url,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// handleAddServer registers a new server and kicks off a refresh so its
// status and theme appear without waiting for the next periodic round.
func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeServerRequest(w, r)
	if !ok {
		return
	}

	rec := models.ServerRecord{
		Label:      req.Label,
		Host:       req.Host,
		Port:       req.Port,
		WebsiteURL: req.WebsiteURL,
		Platform:   models.Platform(req.Platform),
		Source:     models.SourceManual,
	}
	rec.CountryCode = s.geo.CountryCode(rec.Host)

	added, err := s.dir.Add(rec)
	if err != nil {
		if errors.Is(err, directory.ErrDuplicate) {
			http.Error(w, "Server already registered", http.StatusConflict)
			return
		}
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if s.store != nil {
		if err := s.store.UpsertServer(added); err != nil {
			log.Error().Err(err).Str("id", added.ID).Msg("Failed to persist server")
		}
	}

	s.sched.TriggerSync()

	writeJSON(w, http.StatusCreated, s.view(added))
}

// handleUpdateServer edits an existing record's identity fields.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeServerRequest(w, r)
	if !ok {
		return
	}
	if req.ID == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	prev, ok := s.dir.Get(req.ID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	rec := prev
	rec.Label = req.Label
	rec.Host = req.Host
	rec.Port = req.Port
	rec.WebsiteURL = req.WebsiteURL
	rec.Platform = models.Platform(req.Platform)
	rec.CountryCode = s.geo.CountryCode(rec.Host)

	if !s.dir.Update(rec) {
		http.NotFound(w, r)
		return
	}

	if prev.WebsiteURL != rec.WebsiteURL {
		s.themes.Invalidate(prev)
	}
	if s.store != nil {
		if err := s.store.UpsertServer(rec); err != nil {
			log.Error().Err(err).Str("id", rec.ID).Msg("Failed to persist server")
		}
	}

	s.sched.TriggerSync()

	writeJSON(w, http.StatusOK, s.view(rec))
}

// handleRemoveServer deletes a record. Query params: ?id=<uuid>
func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	rec, ok := s.dir.Get(id)
	if !ok || !s.dir.Remove(id) {
		http.NotFound(w, r)
		return
	}

	s.themes.Invalidate(rec)
	if s.store != nil {
		if err := s.store.DeleteServer(id); err != nil {
			log.Error().Err(err).Str("id", id).Msg("Failed to delete persisted server")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTriggerSync requests an immediate refresh round.
func (s *Server) handleTriggerSync(w http.ResponseWriter, _ *http.Request) {
	s.sched.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync requested"})
}

// handleListingRefresh queues a master list re-import on the loader's own
// loop. Repeated requests coalesce instead of stacking overlapping imports.
func (s *Server) handleListingRefresh(w http.ResponseWriter, _ *http.Request) {
	s.loader.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

// handleHealth reports liveness and the directory size.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "servers": s.dir.Len()})
}

// handleVersion returns build metadata.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

// decodeServerRequest parses and validates the shared add/edit payload.
func decodeServerRequest(w http.ResponseWriter, r *http.Request) (addServerRequest, bool) {
	var req addServerRequest

	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return req, false
	}

	if req.Host == "" || req.Port <= 0 || req.Port > 65535 {
		http.Error(w, "Missing or invalid host/port", http.StatusBadRequest)
		return req, false
	}
	if req.Label == "" {
		req.Label = req.Host
	}

	return req, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
