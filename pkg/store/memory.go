package store

import (
	"context"
	"sync"
	"time"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// Memory implements [Store] as a mutex-guarded map keyed by external
// subject id, with a secondary email index enforcing the same uniqueness
// the PostgreSQL schema does. Rows are stored and returned by value, so
// callers never share mutable state with the store.
//
// Intended for tests and embedded single-process deployments. Nothing is
// persisted across restarts.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]models.User // keyed by ExternalID
	byEmail map[string]string      // email to ExternalID
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory user store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]models.User),
		byEmail: make(map[string]string),
	}
}

// GetByExternalID returns the row for an external subject id, or NF_002
// when no row exists.
func (s *Memory) GetByExternalID(_ context.Context, externalID string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[externalID]
	if !ok {
		return models.User{}, vgerr.Newf(vgerr.CodeNotFoundUser, "store: user %s not found", externalID)
	}
	return u, nil
}

// Insert persists a new row. CONF_002 when the external id or email is
// already taken.
func (s *Memory) Insert(_ context.Context, user models.User) (models.User, error) {
	if err := user.Validate(); err != nil {
		return models.User{}, vgerr.Wrap(err, vgerr.CodeValidation, "store: invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ExternalID]; ok {
		return models.User{}, vgerr.Newf(vgerr.CodeConflictAlreadyExists,
			"store: user %s already exists", user.ExternalID)
	}
	if _, ok := s.byEmail[user.Email]; ok {
		return models.User{}, vgerr.Newf(vgerr.CodeConflictAlreadyExists,
			"store: email %s already in use", user.Email)
	}

	s.users[user.ExternalID] = user
	s.byEmail[user.Email] = user.ExternalID
	return user, nil
}

// Update rewrites the mutable fields of the row matched by ExternalID,
// keeping the stored ID and CreatedAt. NF_002 when no row matches;
// CONF_002 when the new email belongs to another row.
func (s *Memory) Update(_ context.Context, user models.User) (models.User, error) {
	if err := user.Validate(); err != nil {
		return models.User{}, vgerr.Wrap(err, vgerr.CodeValidation, "store: invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ExternalID]
	if !ok {
		return models.User{}, vgerr.Newf(vgerr.CodeNotFoundUser, "store: user %s not found", user.ExternalID)
	}
	if user.Email != current.Email {
		if _, taken := s.byEmail[user.Email]; taken {
			return models.User{}, vgerr.Newf(vgerr.CodeConflictAlreadyExists,
				"store: email %s already in use", user.Email)
		}
		delete(s.byEmail, current.Email)
		s.byEmail[user.Email] = user.ExternalID
	}

	user.ID = current.ID
	user.CreatedAt = current.CreatedAt
	s.users[user.ExternalID] = user
	return user, nil
}

// SetActive flips the active flag of the row matched by ExternalID and
// returns the updated row. NF_002 when no row matches.
func (s *Memory) SetActive(_ context.Context, externalID string, active bool) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[externalID]
	if !ok {
		return models.User{}, vgerr.Newf(vgerr.CodeNotFoundUser, "store: user %s not found", externalID)
	}

	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	s.users[externalID] = u
	return u, nil
}

// Len returns the number of stored rows, active and inactive.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
