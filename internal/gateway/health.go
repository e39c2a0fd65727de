package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports liveness plus the process uptime. Unauthenticated,
// grounded on the teacher's handleHealthz but without the channel-probe
// machinery this gateway has no equivalent of.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"status":     "ok",
		"uptime_sec": int(time.Since(s.startTime).Seconds()),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.deps.Logger.Debug(r.Context(), "health write failed", "error", err)
	}
}
