package gateway

import (
	"io"
	"net/http"

	"github.com/forgegate/forgegate/internal/filerecall"
	"github.com/forgegate/forgegate/pkg/models"
)

// maxUploadFiles and maxUploadFileBytes bound POST /:id/upload (§6).
const (
	maxUploadFiles     = 100
	maxUploadFileBytes = 100 << 20
)

type instanceStatsResponse struct {
	FileCount      int      `json:"file_count"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	SupportedTypes []string `json:"supported_types"`
	VectorStoreID  string   `json:"vector_store_id,omitempty"`
}

func (s *Server) handleInstanceStats(w http.ResponseWriter, r *http.Request, inst *models.FileRecallInstance) {
	writeJSON(w, http.StatusOK, instanceStatsResponse{
		FileCount:      inst.FileCount,
		TotalSizeBytes: inst.TotalBytes,
		SupportedTypes: filerecall.DefaultAllowedExtensions,
		VectorStoreID:  inst.VectorStoreID,
	})
}

func (s *Server) handleInstanceFilesList(w http.ResponseWriter, r *http.Request, inst *models.FileRecallInstance) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, []models.FileRecallFile{})
		return
	}
	files, err := s.deps.Store.ListFilesByInstance(r.Context(), inst.ID)
	if err != nil {
		s.deps.Logger.Error(r.Context(), "list files failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleInstanceFileDelete(w http.ResponseWriter, r *http.Request, inst *models.FileRecallInstance, fileID string) {
	if err := s.deps.FileRecallFiles.DeleteFile(r.Context(), inst.ID, fileID); err != nil {
		s.deps.Logger.Error(r.Context(), "delete file failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInstanceUpload accepts a multipart batch (≤100 files, ≤100 MiB
// each) and runs each through the upload pipeline, returning per-file
// outcomes (§6).
func (s *Server) handleInstanceUpload(w http.ResponseWriter, r *http.Request, inst *models.FileRecallInstance) {
	if err := r.ParseMultipartForm(maxUploadFileBytes); err != nil {
		writeValidationError(w, "malformed multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		fileHeaders = r.MultipartForm.File["file"]
	}
	if len(fileHeaders) == 0 {
		writeValidationError(w, "no files in upload")
		return
	}
	if len(fileHeaders) > maxUploadFiles {
		writeValidationError(w, "too many files in one upload batch")
		return
	}

	batch := make([]filerecall.UploadFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		if fh.Size > maxUploadFileBytes {
			writeValidationError(w, "file exceeds the 100 MiB per-file limit: "+fh.Filename)
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeValidationError(w, "failed to read upload: "+fh.Filename)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxUploadFileBytes+1))
		f.Close()
		if err != nil {
			writeValidationError(w, "failed to read upload: "+fh.Filename)
			return
		}
		batch = append(batch, filerecall.UploadFile{Filename: fh.Filename, Data: data})
	}

	results, err := s.deps.FileRecallFiles.UploadBatch(r.Context(), inst.ID, batch)
	if err != nil {
		s.deps.Logger.Error(r.Context(), "upload batch failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toUploadResponses(results))
}

// uploadResponse is one file's outcome in the wire shape (§6):
// {filename, action: uploaded|skipped|error, message}.
type uploadResponse struct {
	Filename string `json:"filename"`
	Action   string `json:"action"`
	Message  string `json:"message,omitempty"`
}

// toUploadResponses translates internal/filerecall's ready/duplicate/error
// UploadResult.Status into the uploaded/skipped/error action vocabulary.
func toUploadResponses(results []filerecall.UploadResult) []uploadResponse {
	out := make([]uploadResponse, len(results))
	for i, r := range results {
		resp := uploadResponse{Filename: r.Filename, Message: r.Error}
		switch r.Status {
		case "duplicate":
			resp.Action = "skipped"
			if resp.Message == "" {
				resp.Message = "identical file already indexed"
			}
		case "error":
			resp.Action = "error"
		default:
			resp.Action = "uploaded"
		}
		out[i] = resp
	}
	return out
}
