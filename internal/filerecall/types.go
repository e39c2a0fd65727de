// Package filerecall implements the multi-tenant document index (§3.7,
// §4.7): per-instance vector-store provisioning, content-hash-deduped
// uploads, and delegated search.
package filerecall

import (
	"context"
	"errors"
	"regexp"

	"github.com/forgegate/forgegate/pkg/models"
)

// ErrNotFound mirrors store.ErrNotFound without an import-cycle dependency
// on internal/store; Repository implementations translate their own
// not-found classification into this sentinel.
var ErrNotFound = errors.New("filerecall: not found")

// ErrInvalidSlug is returned when an instance id fails the §4.7 slug
// pattern.
var ErrInvalidSlug = errors.New("filerecall: invalid instance id")

// ErrExtensionNotAllowed is returned by the upload pipeline's step 1
// allow-list check.
var ErrExtensionNotAllowed = errors.New("filerecall: file extension not allowed")

// slugPattern is exactly §4.7 invariant (iii): ^[a-z0-9](-?[a-z0-9]+)*$
var slugPattern = regexp.MustCompile(`^[a-z0-9](-?[a-z0-9]+)*$`)

// ValidSlug reports whether id matches the instance-id slug pattern.
func ValidSlug(id string) bool {
	return slugPattern.MatchString(id)
}

// Repository persists FileRecallInstance/FileRecallFile rows.
// internal/store's sqlite-backed Store satisfies this.
type Repository interface {
	InsertInstance(ctx context.Context, inst models.FileRecallInstance) error
	GetInstance(ctx context.Context, id string) (*models.FileRecallInstance, error)
	GetInstanceByAccessToken(ctx context.Context, token string) (*models.FileRecallInstance, error)
	ListInstances(ctx context.Context) ([]models.FileRecallInstance, error)
	SetInstanceVectorStoreID(ctx context.Context, id, vectorStoreID string) error
	UpdateInstanceDisplayName(ctx context.Context, id, displayName string) error
	AdjustInstanceCounters(ctx context.Context, id string, fileCountDelta int, totalBytesDelta int64) error
	DeleteInstance(ctx context.Context, id string) error

	GetFileByHash(ctx context.Context, instanceID, sha256Hex string) (*models.FileRecallFile, error)
	InsertFile(ctx context.Context, f models.FileRecallFile) error
	UpdateFileStatus(ctx context.Context, id string, status models.FileRecallFileStatus, upstreamFileID, upstreamVectorID, errorText string) error
	DeleteFile(ctx context.Context, id string) error
	ListFilesByInstance(ctx context.Context, instanceID string) ([]models.FileRecallFile, error)
}

// SearchHit is one result from a vector-store search.
type SearchHit struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score"`
}

// VectorStore is the thin interface over the upstream embedding/vector
// search API (§3.7): an external collaborator per spec §1. Concrete
// implementations are NullVectorStore (tests, no credential configured)
// and HTTPVectorStore (a generic REST adapter).
type VectorStore interface {
	// Create provisions a new vector store for an instance and returns its
	// upstream id, lazily invoked on an instance's first upload.
	Create(ctx context.Context, credential, displayName string) (vectorStoreID string, err error)

	// Upload sends file bytes to the upstream provider, returning its
	// upstream file id.
	Upload(ctx context.Context, credential string, filename string, mediaType string, data []byte) (upstreamFileID string, err error)

	// AttachToStore attaches an uploaded file to a vector store, returning
	// the upstream vector-file attachment id.
	AttachToStore(ctx context.Context, credential, vectorStoreID, upstreamFileID string) (upstreamVectorID string, err error)

	// Search queries a vector store, bounded by maxResults.
	Search(ctx context.Context, credential, vectorStoreID, query string, maxResults int) ([]SearchHit, error)

	// Delete removes a file (and, best-effort, its vector-store
	// attachment) upstream.
	Delete(ctx context.Context, credential, upstreamFileID, upstreamVectorID string) error
}

// UploadResult is the outcome of one file in an Upload batch.
type UploadResult struct {
	Filename string `json:"filename"`
	FileID   string `json:"file_id,omitempty"`
	Status   string `json:"status"` // "ready", "duplicate", "error"
	Error    string `json:"error,omitempty"`
}
