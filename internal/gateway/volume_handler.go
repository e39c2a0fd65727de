package gateway

import (
	"net/http"
	"path/filepath"
	"strings"
)

// handleVolume serves GET /:user/:folder/volume/* as static files rooted
// at cfg.VolumeRoot, rejecting any resolved path that escapes it (§4.10).
func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.VolumeRoot == "" {
		http.NotFound(w, r)
		return
	}

	if !strings.Contains(r.URL.Path, "/volume/") {
		http.NotFound(w, r)
		return
	}

	root, err := filepath.Abs(s.cfg.VolumeRoot)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	resolved, err := filepath.Abs(filepath.Join(root, filepath.Clean(r.URL.Path)))
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		http.Error(w, `{"error":"path escapes data root"}`, http.StatusForbidden)
		return
	}

	http.ServeFile(w, r, resolved)
}
