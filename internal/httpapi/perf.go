package httpapi

import "net/http"

func (s *Server) handlePerfPauses(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"holds":        []any{},
		})
		return
	}
	snap := s.metrics.HoldSnapshot()
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetHolds()
	}
	respondJSON(w, http.StatusOK, snap)
}
