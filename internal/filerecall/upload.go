package filerecall

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/forgegate/forgegate/pkg/models"
)

// DefaultAllowedExtensions is the upload allow-list (§4.7 step 1).
var DefaultAllowedExtensions = []string{
	".txt", ".md", ".pdf", ".doc", ".docx", ".csv", ".json", ".html", ".htm",
}

// UploadFile is one file handed to the pipeline: original name + bytes.
type UploadFile struct {
	Filename string
	Data     []byte
}

// UploadPipeline implements the exact 7-step upload flow of §4.7.
type UploadPipeline struct {
	repo        Repository
	vectorStore VectorStore
	frRoot      string
	allowedExt  map[string]bool
}

// NewUploadPipeline builds an UploadPipeline storing blobs under frRoot
// (the "{fr-root}" of §4.7's storage naming convention).
func NewUploadPipeline(repo Repository, vectorStore VectorStore, frRoot string, allowedExtensions []string) *UploadPipeline {
	if vectorStore == nil {
		vectorStore = NullVectorStore{}
	}
	if allowedExtensions == nil {
		allowedExtensions = DefaultAllowedExtensions
	}
	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &UploadPipeline{repo: repo, vectorStore: vectorStore, frRoot: frRoot, allowedExt: allowed}
}

// Upload runs the 7-step flow for one file against instanceID.
func (p *UploadPipeline) Upload(ctx context.Context, instanceID string, file UploadFile) (*UploadResult, error) {
	result := &UploadResult{Filename: file.Filename}

	// Step 1: extension allow-list.
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !p.allowedExt[ext] {
		result.Status = "error"
		result.Error = ErrExtensionNotAllowed.Error()
		return result, nil
	}

	inst, err := p.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	// Step 2: content hash.
	sum := sha256.Sum256(file.Data)
	hash := hex.EncodeToString(sum[:])

	// Step 3: dedup against a ready row.
	if existing, err := p.repo.GetFileByHash(ctx, instanceID, hash); err == nil && existing != nil {
		if existing.Status == models.FileRecallReady {
			result.FileID = existing.ID
			result.Status = "duplicate"
			return result, nil
		}
		// Step 4: replace a stale error row.
		if existing.Status == models.FileRecallError {
			if err := p.repo.DeleteFile(ctx, existing.ID); err != nil && err != ErrNotFound {
				return nil, err
			}
		}
	} else if err != nil && err != ErrNotFound {
		return nil, err
	}

	// Step 5: persist at {fr-root}/{instance}/{hash16}.{ext}.
	storageName := hash[:16] + ext
	dir := filepath.Join(p.frRoot, instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filerecall: mkdir %s: %w", dir, err)
	}
	storagePath := filepath.Join(dir, storageName)
	if err := os.WriteFile(storagePath, file.Data, 0o644); err != nil {
		return nil, fmt.Errorf("filerecall: write %s: %w", storagePath, err)
	}

	mediaType := mime.TypeByExtension(ext)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	fileRow := models.FileRecallFile{
		ID:               uuid.NewString(),
		InstanceID:       instanceID,
		OriginalFilename: file.Filename,
		StorageName:      storageName,
		ContentSHA256:    hash,
		Size:             int64(len(file.Data)),
		MediaType:        mediaType,
		Status:           models.FileRecallProcessing,
	}

	// Step 6: insert processing row, upload upstream, lazy-create vector
	// store, attach, mark ready.
	if err := p.repo.InsertFile(ctx, fileRow); err != nil {
		os.Remove(storagePath)
		return nil, err
	}

	if failErr := p.finishUpload(ctx, inst, &fileRow, file.Data); failErr != nil {
		// Step 7: mark error, remove local file, continue the batch
		// (the caller iterates files; this single failure doesn't abort it).
		_ = p.repo.UpdateFileStatus(ctx, fileRow.ID, models.FileRecallError, "", "", failErr.Error())
		os.Remove(storagePath)
		result.Status = "error"
		result.Error = failErr.Error()
		return result, nil
	}

	if err := p.repo.AdjustInstanceCounters(ctx, instanceID, 1, fileRow.Size); err != nil {
		return nil, err
	}

	result.FileID = fileRow.ID
	result.Status = "ready"
	return result, nil
}

func (p *UploadPipeline) finishUpload(ctx context.Context, inst *models.FileRecallInstance, f *models.FileRecallFile, data []byte) error {
	upstreamFileID, err := p.vectorStore.Upload(ctx, inst.Credential, f.OriginalFilename, f.MediaType, data)
	if err != nil {
		return fmt.Errorf("upstream upload: %w", err)
	}

	vectorStoreID := inst.VectorStoreID
	if vectorStoreID == "" {
		vectorStoreID, err = p.vectorStore.Create(ctx, inst.Credential, inst.DisplayName)
		if err != nil {
			return fmt.Errorf("create vector store: %w", err)
		}
		if err := p.repo.SetInstanceVectorStoreID(ctx, inst.ID, vectorStoreID); err != nil {
			return fmt.Errorf("persist vector store id: %w", err)
		}
		inst.VectorStoreID = vectorStoreID
	}

	upstreamVectorID, err := p.vectorStore.AttachToStore(ctx, inst.Credential, vectorStoreID, upstreamFileID)
	if err != nil {
		return fmt.Errorf("attach to vector store: %w", err)
	}

	return p.repo.UpdateFileStatus(ctx, f.ID, models.FileRecallReady, upstreamFileID, upstreamVectorID, "")
}

// UploadBatch runs Upload over every file, collecting each result and
// continuing past individual failures (§4.7: "continue the batch").
func (p *UploadPipeline) UploadBatch(ctx context.Context, instanceID string, files []UploadFile) ([]UploadResult, error) {
	results := make([]UploadResult, 0, len(files))
	for _, f := range files {
		res, err := p.Upload(ctx, instanceID, f)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// Search delegates to the instance's vector store with its own credential.
func (p *UploadPipeline) Search(ctx context.Context, instanceID, query string, maxResults int) ([]SearchHit, error) {
	inst, err := p.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.VectorStoreID == "" {
		return nil, nil
	}
	return p.vectorStore.Search(ctx, inst.Credential, inst.VectorStoreID, query, maxResults)
}

// DeleteFile removes a file upstream (best-effort) and locally.
func (p *UploadPipeline) DeleteFile(ctx context.Context, instanceID, fileID string) error {
	inst, err := p.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	files, err := p.repo.ListFilesByInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	var target *models.FileRecallFile
	for i := range files {
		if files[i].ID == fileID {
			target = &files[i]
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}

	_ = p.vectorStore.Delete(ctx, inst.Credential, target.UpstreamFileID, target.UpstreamVectorID)
	os.Remove(filepath.Join(p.frRoot, instanceID, target.StorageName))

	if err := p.repo.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	return p.repo.AdjustInstanceCounters(ctx, instanceID, -1, -target.Size)
}
