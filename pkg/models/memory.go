package models

import "time"

// UserMemory is a per-user long-term memory row (§3). Total content length
// per user is bounded by a configured character budget (default 2000, §8.3).
type UserMemory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
