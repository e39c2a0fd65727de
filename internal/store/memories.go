package store

import (
	"context"

	"github.com/forgegate/forgegate/pkg/models"
)

// List, Get, Insert, Update, and Delete implement memory.Repository
// (§3.8) against the user_memories table, giving internal/memory a
// durable backing store in place of its in-process map fallback.

func (s *Store) List(ctx context.Context, userID string) ([]models.UserMemory, error) {
	db := s.conn()
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, content, created_at, updated_at
		FROM user_memories WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []models.UserMemory
	for rows.Next() {
		var m models.UserMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, classifyError(err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, userID, id string) (*models.UserMemory, error) {
	db := s.conn()
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, content, created_at, updated_at
		FROM user_memories WHERE id = $1 AND user_id = $2
	`, id, userID)

	var m models.UserMemory
	if err := row.Scan(&m.ID, &m.UserID, &m.Content, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if classifyError(err) == ErrNotFound {
			return nil, nil
		}
		return nil, classifyError(err)
	}
	return &m, nil
}

func (s *Store) Insert(ctx context.Context, mem models.UserMemory) error {
	db := s.conn()
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_memories (id, user_id, content, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, mem.ID, mem.UserID, mem.Content, mem.CreatedAt, mem.UpdatedAt)
	return classifyError(err)
}

func (s *Store) Update(ctx context.Context, mem models.UserMemory) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `
		UPDATE user_memories SET content = $1, updated_at = $2
		WHERE id = $3 AND user_id = $4
	`, mem.Content, mem.UpdatedAt, mem.ID, mem.UserID)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	db := s.conn()
	res, err := db.ExecContext(ctx, `DELETE FROM user_memories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return classifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
