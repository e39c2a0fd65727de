package filerecall

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/forgegate/forgegate/pkg/models"
)

// InstanceStore manages file-recall instance lifecycle: creation (with
// slug validation and a random access token), lookup, and deletion
// (§4.7).
type InstanceStore struct {
	repo Repository
}

// NewInstanceStore builds an InstanceStore over repo.
func NewInstanceStore(repo Repository) *InstanceStore {
	return &InstanceStore{repo: repo}
}

// newAccessToken returns a 256-bit random hex token (§4.7 invariant i).
func newAccessToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("filerecall: generate access token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create provisions a new instance. id must already match the slug
// pattern; credential is the upstream vector-store provider credential,
// stored but never returned to callers via JSON (§3).
func (s *InstanceStore) Create(ctx context.Context, id, displayName, credential string) (*models.FileRecallInstance, error) {
	if !ValidSlug(id) {
		return nil, ErrInvalidSlug
	}
	token, err := newAccessToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	inst := models.FileRecallInstance{
		ID:          id,
		DisplayName: displayName,
		Credential:  credential,
		AccessToken: token,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertInstance(ctx, inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Get returns an instance by id.
func (s *InstanceStore) Get(ctx context.Context, id string) (*models.FileRecallInstance, error) {
	return s.repo.GetInstance(ctx, id)
}

// Authenticate resolves an instance by its per-instance access token
// (§4.7 invariant ii).
func (s *InstanceStore) Authenticate(ctx context.Context, token string) (*models.FileRecallInstance, error) {
	return s.repo.GetInstanceByAccessToken(ctx, token)
}

// UpdateDisplayName renames an instance, persisting the change.
func (s *InstanceStore) UpdateDisplayName(ctx context.Context, id, displayName string) (*models.FileRecallInstance, error) {
	if err := s.repo.UpdateInstanceDisplayName(ctx, id, displayName); err != nil {
		return nil, err
	}
	return s.repo.GetInstance(ctx, id)
}

// List returns every instance, for the admin CRUD surface.
func (s *InstanceStore) List(ctx context.Context) ([]models.FileRecallInstance, error) {
	return s.repo.ListInstances(ctx)
}

// Delete removes an instance; its files cascade in the backing store.
func (s *InstanceStore) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteInstance(ctx, id)
}
