// Package store persists the locally reconciled projection of externally
// managed identities.
//
// The package declares the [Store] interface the reconciler writes through
// and ships two implementations: [Postgres], backed by the platform
// PostgreSQL client, and [Memory], a mutex-guarded map for tests and
// embedded use. Both enforce the same row semantics: at most one row per
// external subject id, unique email, and soft deletes only. Rows flip to
// inactive, they are never removed, so historical domain records
// (appointments, clinical notes, invoices) keep valid foreign keys.
package store

import (
	"context"

	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// Store is the persisted user store.
//
// Implementations translate storage failures into typed platform errors:
// NF_002 when no row matches the subject, CONF_002 on unique-index
// collisions, and INT_002 / TIMEOUT_002 for backend failures. Callers can
// branch on codes with vgerr.HasCode without knowing which backend is
// underneath.
type Store interface {
	// GetByExternalID returns the row for an external subject id.
	GetByExternalID(ctx context.Context, externalID string) (models.User, error)

	// Insert persists a new row. The caller supplies the complete row,
	// normally built with models.NewUser. Fails with CONF_002 when a row
	// with the same external id or email already exists.
	Insert(ctx context.Context, user models.User) (models.User, error)

	// Update rewrites the mutable fields of an existing row, matched by
	// ExternalID. ID, ExternalID, and CreatedAt are immutable; stored
	// values win over whatever the caller passes for them.
	Update(ctx context.Context, user models.User) (models.User, error)

	// SetActive flips the active flag of an existing row and returns the
	// updated row. Soft delete is SetActive(ctx, id, false); a later
	// reactivation is SetActive(ctx, id, true).
	SetActive(ctx context.Context, externalID string, active bool) (models.User, error)
}
