package repositories

import (
	"context"
	"sync/atomic"

	"userdir/internal/models"
)

// UserRepository owns the canonical, ordered user collection of a session.
// Lookup misses on Update and Delete are reported through the found flag, never as errors.
type UserRepository interface {
	Initialize(ctx context.Context, users []models.User) error
	Create(ctx context.Context, user models.User) (models.User, error)
	Update(ctx context.Context, id models.UserID, patch models.UserPatch) (bool, error)
	Delete(ctx context.Context, id models.UserID) (bool, error)
	GetAll(ctx context.Context) ([]models.User, error)
	GetByID(ctx context.Context, id models.UserID) (models.User, bool, error)
	Contains(ctx context.Context, id models.UserID) (bool, error)

	Loading() bool
	SetLoading(loading bool)
}

// loadState carries the loading flag shared by the repository implementations.
// Constructors set it to true: a session starts out loading.
type loadState struct {
	loading atomic.Bool
}

// Loading reports whether the initial fetch is still in flight.
func (s *loadState) Loading() bool {
	return s.loading.Load()
}

// SetLoading updates the loading flag.
func (s *loadState) SetLoading(loading bool) {
	s.loading.Store(loading)
}
