package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/forgegate/forgegate/internal/filerecall"
)

// instanceCreateRequest is the body of POST /api/v1/file-recall/instances.
type instanceCreateRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OpenAIAPIKey string `json:"openai_api_key"`
}

// handleInstancesCollection dispatches POST (create) and GET (list) on
// the admin instances collection (§6).
func (s *Server) handleInstancesCollection(w http.ResponseWriter, r *http.Request) {
	if s.deps.FileRecall == nil {
		http.Error(w, `{"error":"file-recall not configured"}`, http.StatusNotImplemented)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req instanceCreateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeValidationError(w, "malformed request body")
			return
		}
		inst, err := s.deps.FileRecall.Create(r.Context(), req.ID, req.Name, req.OpenAIAPIKey)
		if err != nil {
			writeInstanceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, inst)
	case http.MethodGet:
		list, err := s.deps.FileRecall.List(r.Context())
		if err != nil {
			s.deps.Logger.Error(r.Context(), "list instances failed", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

// handleInstanceItem dispatches PUT/DELETE on one admin instance by id:
// path shape /api/v1/file-recall/instances/{id}.
func (s *Server) handleInstanceItem(w http.ResponseWriter, r *http.Request) {
	if s.deps.FileRecall == nil {
		http.Error(w, `{"error":"file-recall not configured"}`, http.StatusNotImplemented)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/file-recall/instances/")
	if id == "" {
		writeValidationError(w, "missing instance id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req instanceCreateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeValidationError(w, "malformed request body")
			return
		}
		inst, err := s.deps.FileRecall.Get(r.Context(), id)
		if err != nil {
			writeInstanceError(w, err)
			return
		}
		if req.Name != "" {
			updated, err := s.deps.FileRecall.UpdateDisplayName(r.Context(), id, req.Name)
			if err != nil {
				writeInstanceError(w, err)
				return
			}
			inst = updated
		}
		writeJSON(w, http.StatusOK, inst)
	case http.MethodDelete:
		if err := s.deps.FileRecall.Delete(r.Context(), id); err != nil {
			writeInstanceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

// handleFileRecallInstanceRoute serves the per-instance endpoints gated
// by X-Access-Token rather than the gateway bearer secret (§6): GET
// /:id/files, GET /:id/stats, POST /:id/upload, DELETE /:id/files/:fileId.
func (s *Server) handleFileRecallInstanceRoute(w http.ResponseWriter, r *http.Request) {
	if s.deps.FileRecall == nil || s.deps.FileRecallFiles == nil {
		http.Error(w, `{"error":"file-recall not configured"}`, http.StatusNotImplemented)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/file-recall/")
	if rest == "instances" || strings.HasPrefix(rest, "instances/") || strings.HasPrefix(rest, "instances") {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		writeValidationError(w, "malformed instance path")
		return
	}
	instanceID, sub := parts[0], parts[1]

	token := r.Header.Get("X-Access-Token")
	inst, err := s.deps.FileRecall.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, filerecall.ErrNotFound) {
			http.Error(w, `{"error":"instance not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"invalid access token"}`, http.StatusForbidden)
		return
	}
	if inst.ID != instanceID {
		http.Error(w, `{"error":"invalid access token"}`, http.StatusForbidden)
		return
	}

	switch {
	case sub == "stats" && r.Method == http.MethodGet:
		s.handleInstanceStats(w, r, inst)
	case sub == "upload" && r.Method == http.MethodPost:
		s.handleInstanceUpload(w, r, inst)
	case sub == "files" && r.Method == http.MethodGet:
		s.handleInstanceFilesList(w, r, inst)
	case sub == "files" && r.Method == http.MethodDelete && len(parts) == 3:
		s.handleInstanceFileDelete(w, r, inst, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func writeInstanceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, filerecall.ErrInvalidSlug):
		writeValidationError(w, err.Error())
	case errors.Is(err, filerecall.ErrNotFound):
		http.Error(w, `{"error":"instance not found"}`, http.StatusNotFound)
	default:
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
