package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/scribe/internal/scrape"
)

// StartRequest is the body of POST /api/v1/scrapes.
type StartRequest struct {
	ProfileID  string `json:"profile_id"`
	ChatURL    string `json:"chat_url"`
	UpdateOnly bool   `json:"update_only"`
}

// startScrape handles POST /api/v1/scrapes
func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	handle, err := s.scrapes.Start(r.Context(), scrape.Request{
		ProfileID:  req.ProfileID,
		ChatURL:    req.ChatURL,
		UpdateOnly: req.UpdateOnly,
	})
	if errors.Is(err, scrape.ErrShuttingDown) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("scrape accepted", "session", handle, "profile_id", req.ProfileID, "chat_url", req.ChatURL)
	writeJSON(w, http.StatusAccepted, map[string]string{"handle": handle})
}

// scrapeStatus handles GET /api/v1/scrapes/{handle}
func (s *Server) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.scrapes.Status(chi.URLParam(r, "handle"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown scrape")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// cancelScrape handles DELETE /api/v1/scrapes/{handle}
func (s *Server) cancelScrape(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if !s.scrapes.Cancel(handle) {
		writeError(w, http.StatusNotFound, "unknown scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"handle": handle, "status": "cancel requested"})
}

// listScrapes handles GET /api/v1/scrapes
func (s *Server) listScrapes(w http.ResponseWriter, r *http.Request) {
	list := s.scrapes.List()
	if list == nil {
		list = []scrape.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scrapes": list, "count": len(list)})
}

// cancelAllScrapes handles DELETE /api/v1/scrapes
func (s *Server) cancelAllScrapes(w http.ResponseWriter, r *http.Request) {
	n := s.scrapes.CancelAll()
	writeJSON(w, http.StatusAccepted, map[string]any{"cancelled": n})
}
