package filerecall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// HTTPVectorStore is a generic REST adapter over an upstream vector-store
// provider (§3.7's external collaborator). It speaks the common
// create-store / upload-file / attach-to-store / search / delete shape
// used by hosted embedding-search APIs, authenticating each request with
// the instance's own credential rather than a process-wide one.
type HTTPVectorStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPVectorStore builds an adapter against baseURL (e.g.
// "https://api.example.com/v1").
func NewHTTPVectorStore(baseURL string) *HTTPVectorStore {
	return &HTTPVectorStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (h *HTTPVectorStore) newRequest(ctx context.Context, method, path, credential, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("filerecall: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (h *HTTPVectorStore) do(req *http.Request, out interface{}) error {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("filerecall: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("filerecall: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("filerecall: upstream returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("filerecall: parse response: %w", err)
	}
	return nil
}

// Create provisions a vector store upstream.
func (h *HTTPVectorStore) Create(ctx context.Context, credential, displayName string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"name": displayName})
	req, err := h.newRequest(ctx, http.MethodPost, "/vector_stores", credential, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := h.do(req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Upload sends file bytes as a multipart upload, returning the upstream
// file id.
func (h *HTTPVectorStore) Upload(ctx context.Context, credential, filename, mediaType string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("filerecall: build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("filerecall: write multipart body: %w", err)
	}
	if err := writer.WriteField("purpose", "file_recall"); err != nil {
		return "", fmt.Errorf("filerecall: write multipart field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("filerecall: close multipart writer: %w", err)
	}

	req, err := h.newRequest(ctx, http.MethodPost, "/files", credential, writer.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := h.do(req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AttachToStore attaches an uploaded file to a vector store.
func (h *HTTPVectorStore) AttachToStore(ctx context.Context, credential, vectorStoreID, upstreamFileID string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"file_id": upstreamFileID})
	req, err := h.newRequest(ctx, http.MethodPost, "/vector_stores/"+vectorStoreID+"/files", credential, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := h.do(req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Search queries a vector store, capping at maxResults.
func (h *HTTPVectorStore) Search(ctx context.Context, credential, vectorStoreID, query string, maxResults int) ([]SearchHit, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"query":          query,
		"max_num_results": maxResults,
	})
	req, err := h.newRequest(ctx, http.MethodPost, "/vector_stores/"+vectorStoreID+"/search", credential, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			FileID   string  `json:"file_id"`
			Filename string  `json:"filename"`
			Excerpt  string  `json:"excerpt"`
			Score    float64 `json:"score"`
		} `json:"data"`
	}
	if err := h.do(req, &out); err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(out.Data))
	for _, d := range out.Data {
		hits = append(hits, SearchHit{FileID: d.FileID, Filename: d.Filename, Excerpt: d.Excerpt, Score: d.Score})
	}
	return hits, nil
}

// Delete removes a file upstream; it's a best-effort call from the
// caller's perspective, but returns any error it hits.
func (h *HTTPVectorStore) Delete(ctx context.Context, credential, upstreamFileID, upstreamVectorID string) error {
	if upstreamFileID == "" {
		return nil
	}
	req, err := h.newRequest(ctx, http.MethodDelete, "/files/"+upstreamFileID, credential, "", nil)
	if err != nil {
		return err
	}
	return h.do(req, nil)
}

// NullVectorStore is a no-op VectorStore for instances with no upstream
// credential configured (local/dev use, or tests). It assigns
// deterministic placeholder ids so the surrounding CRUD flow behaves the
// same as with a real provider.
type NullVectorStore struct{}

func (NullVectorStore) Create(ctx context.Context, credential, displayName string) (string, error) {
	return "null-store-" + displayName, nil
}

func (NullVectorStore) Upload(ctx context.Context, credential, filename, mediaType string, data []byte) (string, error) {
	return "null-file-" + filename, nil
}

func (NullVectorStore) AttachToStore(ctx context.Context, credential, vectorStoreID, upstreamFileID string) (string, error) {
	return "null-attach-" + upstreamFileID, nil
}

func (NullVectorStore) Search(ctx context.Context, credential, vectorStoreID, query string, maxResults int) ([]SearchHit, error) {
	return nil, nil
}

func (NullVectorStore) Delete(ctx context.Context, credential, upstreamFileID, upstreamVectorID string) error {
	return nil
}
