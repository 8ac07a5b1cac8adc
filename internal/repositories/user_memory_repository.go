package repositories

import (
	"context"
	"slices"
	"sync"

	"userdir/internal/models"
)

var _ UserRepository = (*MemoryUserRepository)(nil)

// MemoryUserRepository is the in-memory implementation of UserRepository.
// Every mutation builds a new slice and swaps it in, so a slice handed out
// by GetAll is never modified afterwards.
type MemoryUserRepository struct {
	loadState
	users []models.User
	mu    sync.RWMutex
}

// NewMemoryUserRepository creates an empty repository in the loading state.
func NewMemoryUserRepository() *MemoryUserRepository {
	r := &MemoryUserRepository{}
	r.SetLoading(true)
	return r
}

// Initialize replaces the collection wholesale, keeping the given order.
// Records repeating an earlier id are skipped.
func (r *MemoryUserRepository) Initialize(_ context.Context, users []models.User) error {
	next, _ := models.UniqueByID(users)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = next
	return nil
}

// Create inserts the user at the head of the collection.
func (r *MemoryUserRepository) Create(_ context.Context, user models.User) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]models.User, 0, len(r.users)+1)
	next = append(next, user)
	next = append(next, r.users...)
	r.users = next
	return user, nil
}

// Update shallow-merges the patch into the user with the given id.
func (r *MemoryUserRepository) Update(_ context.Context, id models.UserID, patch models.UserPatch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return false, nil
	}
	next := slices.Clone(r.users)
	next[idx] = patch.Apply(next[idx])
	r.users = next
	return true, nil
}

// Delete removes the user with the given id.
func (r *MemoryUserRepository) Delete(_ context.Context, id models.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return false, nil
	}
	next := make([]models.User, 0, len(r.users)-1)
	next = append(next, r.users[:idx]...)
	next = append(next, r.users[idx+1:]...)
	r.users = next
	return true, nil
}

// GetAll returns a copy of the collection in canonical order.
func (r *MemoryUserRepository) GetAll(_ context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.users), nil
}

// GetByID returns the user with the given id.
func (r *MemoryUserRepository) GetByID(_ context.Context, id models.UserID) (models.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return models.User{}, false, nil
	}
	return r.users[idx], true, nil
}

// Contains reports whether a user with the given id exists.
func (r *MemoryUserRepository) Contains(_ context.Context, id models.UserID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.indexOf(id) >= 0, nil
}

// indexOf expects r.mu to be held.
func (r *MemoryUserRepository) indexOf(id models.UserID) int {
	return slices.IndexFunc(r.users, func(u models.User) bool { return u.ID == id })
}
