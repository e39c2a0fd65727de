package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/forgegate/forgegate/pkg/models"
)

// InsertInstance creates a file-recall instance row (§4.7).
func (s *Store) InsertInstance(ctx context.Context, inst models.FileRecallInstance) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = inst.CreatedAt
	}
	db := s.conn()
	var vectorStoreID sql.NullString
	if inst.VectorStoreID != "" {
		vectorStoreID = sql.NullString{String: inst.VectorStoreID, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO file_recall_instances (id, display_name, credential, vector_store_id, access_token, file_count, total_bytes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, inst.ID, inst.DisplayName, inst.Credential, vectorStoreID, inst.AccessToken, inst.FileCount, inst.TotalBytes, inst.CreatedAt, inst.UpdatedAt)
	return classifyError(err)
}

// GetInstance returns an instance by id, or ErrNotFound.
func (s *Store) GetInstance(ctx context.Context, id string) (*models.FileRecallInstance, error) {
	db := s.conn()
	row := db.QueryRowContext(ctx, `
		SELECT id, display_name, credential, vector_store_id, access_token, file_count, total_bytes, created_at, updated_at
		FROM file_recall_instances WHERE id = $1
	`, id)
	return scanInstance(row)
}

// GetInstanceByAccessToken looks up an instance by its per-instance bearer
// token (§4.7 invariant ii: "per-instance operations only require the
// instance's access token").
func (s *Store) GetInstanceByAccessToken(ctx context.Context, token string) (*models.FileRecallInstance, error) {
	db := s.conn()
	row := db.QueryRowContext(ctx, `
		SELECT id, display_name, credential, vector_store_id, access_token, file_count, total_bytes, created_at, updated_at
		FROM file_recall_instances WHERE access_token = $1
	`, token)
	return scanInstance(row)
}

func scanInstance(row *sql.Row) (*models.FileRecallInstance, error) {
	var inst models.FileRecallInstance
	var vectorStoreID sql.NullString
	if err := row.Scan(&inst.ID, &inst.DisplayName, &inst.Credential, &vectorStoreID, &inst.AccessToken,
		&inst.FileCount, &inst.TotalBytes, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, classifyError(err)
	}
	if vectorStoreID.Valid {
		inst.VectorStoreID = vectorStoreID.String
	}
	return &inst, nil
}

// ListInstances returns every instance, for the admin CRUD surface.
func (s *Store) ListInstances(ctx context.Context) ([]models.FileRecallInstance, error) {
	db := s.conn()
	rows, err := db.QueryContext(ctx, `
		SELECT id, display_name, credential, vector_store_id, access_token, file_count, total_bytes, created_at, updated_at
		FROM file_recall_instances ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []models.FileRecallInstance
	for rows.Next() {
		var inst models.FileRecallInstance
		var vectorStoreID sql.NullString
		if err := rows.Scan(&inst.ID, &inst.DisplayName, &inst.Credential, &vectorStoreID, &inst.AccessToken,
			&inst.FileCount, &inst.TotalBytes, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, classifyError(err)
		}
		if vectorStoreID.Valid {
			inst.VectorStoreID = vectorStoreID.String
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpdateInstanceDisplayName renames an instance (the admin PUT route, §6).
func (s *Store) UpdateInstanceDisplayName(ctx context.Context, id, displayName string) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `
		UPDATE file_recall_instances SET display_name = $1, updated_at = $2 WHERE id = $3
	`, displayName, time.Now(), id)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInstanceVectorStoreID records the lazily-created vector store id on
// first upload (§4.7 step 6).
func (s *Store) SetInstanceVectorStoreID(ctx context.Context, id, vectorStoreID string) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `
		UPDATE file_recall_instances SET vector_store_id = $1, updated_at = $2 WHERE id = $3
	`, vectorStoreID, time.Now(), id)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustInstanceCounters applies deltas to file_count/total_bytes, used
// after a successful upload or a deletion.
func (s *Store) AdjustInstanceCounters(ctx context.Context, id string, fileCountDelta int, totalBytesDelta int64) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `
		UPDATE file_recall_instances
		SET file_count = file_count + $1, total_bytes = total_bytes + $2, updated_at = $3
		WHERE id = $4
	`, fileCountDelta, totalBytesDelta, time.Now(), id)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteInstance removes an instance; file_recall_files cascade via the
// foreign key (§3: "files removed with their instance").
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `DELETE FROM file_recall_instances WHERE id = $1`, id)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFileByHash looks up a file by its (instance, content hash) pair —
// the basis of §4.7's content-addressed dedup.
func (s *Store) GetFileByHash(ctx context.Context, instanceID, sha256Hex string) (*models.FileRecallFile, error) {
	db := s.conn()
	row := db.QueryRowContext(ctx, `
		SELECT id, instance_id, original_filename, storage_name, content_sha256, size, media_type,
			upstream_file_id, upstream_vector_id, status, error_text, created_at, updated_at
		FROM file_recall_files WHERE instance_id = $1 AND content_sha256 = $2
	`, instanceID, sha256Hex)
	return scanFile(row)
}

func scanFile(row *sql.Row) (*models.FileRecallFile, error) {
	var f models.FileRecallFile
	var status string
	if err := row.Scan(&f.ID, &f.InstanceID, &f.OriginalFilename, &f.StorageName, &f.ContentSHA256, &f.Size, &f.MediaType,
		&f.UpstreamFileID, &f.UpstreamVectorID, &status, &f.ErrorText, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, classifyError(err)
	}
	f.Status = models.FileRecallFileStatus(status)
	return &f, nil
}

// InsertFile creates a file row, typically with status "processing"
// (§4.7 step 6).
func (s *Store) InsertFile(ctx context.Context, f models.FileRecallFile) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	db := s.conn()
	_, err := db.ExecContext(ctx, `
		INSERT INTO file_recall_files (
			id, instance_id, original_filename, storage_name, content_sha256, size, media_type,
			upstream_file_id, upstream_vector_id, status, error_text, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, f.ID, f.InstanceID, f.OriginalFilename, f.StorageName, f.ContentSHA256, f.Size, f.MediaType,
		f.UpstreamFileID, f.UpstreamVectorID, string(f.Status), f.ErrorText, f.CreatedAt, f.UpdatedAt)
	return classifyError(err)
}

// UpdateFileStatus transitions a file's status, recording upstream ids on
// success or an error message on failure (§4.7 steps 6-7).
func (s *Store) UpdateFileStatus(ctx context.Context, id string, status models.FileRecallFileStatus, upstreamFileID, upstreamVectorID, errorText string) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `
		UPDATE file_recall_files
		SET status = $1, upstream_file_id = $2, upstream_vector_id = $3, error_text = $4, updated_at = $5
		WHERE id = $6
	`, string(status), upstreamFileID, upstreamVectorID, errorText, time.Now(), id)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFile removes a stale or superseded file row (§4.7 steps 4, 7).
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `DELETE FROM file_recall_files WHERE id = $1`, id)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFilesByInstance returns every file for an instance, newest first.
func (s *Store) ListFilesByInstance(ctx context.Context, instanceID string) ([]models.FileRecallFile, error) {
	db := s.conn()
	rows, err := db.QueryContext(ctx, `
		SELECT id, instance_id, original_filename, storage_name, content_sha256, size, media_type,
			upstream_file_id, upstream_vector_id, status, error_text, created_at, updated_at
		FROM file_recall_files WHERE instance_id = $1 ORDER BY created_at DESC
	`, instanceID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []models.FileRecallFile
	for rows.Next() {
		var f models.FileRecallFile
		var status string
		if err := rows.Scan(&f.ID, &f.InstanceID, &f.OriginalFilename, &f.StorageName, &f.ContentSHA256, &f.Size, &f.MediaType,
			&f.UpstreamFileID, &f.UpstreamVectorID, &status, &f.ErrorText, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, classifyError(err)
		}
		f.Status = models.FileRecallFileStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}
