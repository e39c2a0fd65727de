// Package memory implements per-user long-term memory (§3, §4.5): a flat,
// character-budgeted set of rows mutated only through the memory_* tools.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgegate/forgegate/pkg/models"
)

// DefaultMaxChars is the default per-user content budget (§8.3).
const DefaultMaxChars = 2000

// ErrNotFound is returned when a memory row doesn't exist or isn't owned
// by the requesting user.
var ErrNotFound = fmt.Errorf("memory: not found")

// BudgetError is returned when a create/update would exceed the per-user
// character budget. Its message states the remaining budget per §4.5/§7.
type BudgetError struct {
	MaxChars       int
	UsedChars      int
	RequestedChars int
}

func (e *BudgetError) Error() string {
	remaining := e.MaxChars - e.UsedChars
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("memory budget exceeded: %d characters remaining, %d requested", remaining, e.RequestedChars)
}

// Repository persists UserMemory rows. internal/store's sqlite-backed
// implementation satisfies this; MemoryRepository is an in-process
// implementation used for tests and as a fallback.
type Repository interface {
	List(ctx context.Context, userID string) ([]models.UserMemory, error)
	Get(ctx context.Context, userID, id string) (*models.UserMemory, error)
	Insert(ctx context.Context, mem models.UserMemory) error
	Update(ctx context.Context, mem models.UserMemory) error
	Delete(ctx context.Context, userID, id string) error
}

// Store enforces ownership and the per-user character budget on top of a
// Repository.
type Store struct {
	repo     Repository
	maxChars int
}

// NewStore builds a Store. maxChars <= 0 uses DefaultMaxChars.
func NewStore(repo Repository, maxChars int) *Store {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Store{repo: repo, maxChars: maxChars}
}

// List returns every memory owned by userID.
func (s *Store) List(ctx context.Context, userID string) ([]models.UserMemory, error) {
	return s.repo.List(ctx, userID)
}

func (s *Store) usedChars(ctx context.Context, userID string, excludeID string) (int, error) {
	mems, err := s.repo.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	used := 0
	for _, m := range mems {
		if m.ID == excludeID {
			continue
		}
		used += len(m.Content)
	}
	return used, nil
}

// Create inserts a new memory for userID, rejecting it if the user's total
// content length would exceed the configured budget.
func (s *Store) Create(ctx context.Context, userID, content string) (*models.UserMemory, error) {
	used, err := s.usedChars(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if used+len(content) > s.maxChars {
		return nil, &BudgetError{MaxChars: s.maxChars, UsedChars: used, RequestedChars: len(content)}
	}

	now := time.Now()
	mem := models.UserMemory{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// Update replaces the content of an existing memory owned by userID.
func (s *Store) Update(ctx context.Context, userID, id, content string) (*models.UserMemory, error) {
	existing, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	used, err := s.usedChars(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if used+len(content) > s.maxChars {
		return nil, &BudgetError{MaxChars: s.maxChars, UsedChars: used, RequestedChars: len(content)}
	}

	existing.Content = content
	existing.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, *existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Delete removes a memory owned by userID.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	existing, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, userID, id)
}

// MemoryRepository is an in-process Repository, safe for concurrent use.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]models.UserMemory // by id
}

// NewMemoryRepository returns an empty in-process repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]models.UserMemory)}
}

func (r *MemoryRepository) List(_ context.Context, userID string) ([]models.UserMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.UserMemory
	for _, m := range r.rows {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, userID, id string) (*models.UserMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[id]
	if !ok || m.UserID != userID {
		return nil, nil
	}
	return &m, nil
}

func (r *MemoryRepository) Insert(_ context.Context, mem models.UserMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[mem.ID] = mem
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, mem models.UserMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[mem.ID]; !ok {
		return ErrNotFound
	}
	r.rows[mem.ID] = mem
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.UserID != userID {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}
