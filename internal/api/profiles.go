package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/scribe/internal/octo"
)

// listProfiles handles GET /api/v1/profiles
func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile discovery is not configured")
		return
	}
	profiles, err := s.profiles.Profiles(r.Context())
	if err != nil {
		s.logger.Error("failed to list profiles", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []octo.ParserProfile{}
	}

	running := 0
	for _, p := range profiles {
		if p.Running {
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles, "count": len(profiles), "running": running})
}
