// Package models defines the core data models for the VetGrid platform.
//
// The models in this package represent the central data structures shared
// across all platform services. They are designed for serialization (JSON),
// database persistence, and cross-service transport.
//
// User Model:
//
// The [User] type is the locally persisted projection of an externally
// managed identity. The external provider owns the account; VetGrid keeps
// one local row per external subject so that domain records (appointments,
// clinical notes, invoices) can reference a stable internal id.
//
// A user flows through a defined lifecycle, keyed by external subject id:
//
//	unknown → active   (first created event or first verified token)
//	active  → active   (updates with a newer provider timestamp)
//	active  → inactive (deleted event; the row is kept, never removed)
//	inactive → active  (a later created event for the same subject)
//
// The "unknown" state means no local row exists yet. Persisted rows are
// always active or inactive; [User.State] never returns
// [UserStateUnknown]. Rows are soft-deleted only, so foreign keys from
// historical domain records stay intact.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserSchemaVersion identifies the current schema version of the User
// model. Increment this when making breaking changes to the struct fields
// or serialization format to support schema migration.
const UserSchemaVersion = 1

// UserState represents the lifecycle state of a user, keyed by external
// subject id. Subjects begin in [UserStateUnknown] (no local row) and move
// between [UserStateActive] and [UserStateInactive] as provider events and
// verified tokens arrive.
type UserState string

const (
	// UserStateUnknown indicates no local row exists for the subject.
	// This is the implicit initial state; it is never persisted.
	UserStateUnknown UserState = "unknown"

	// UserStateActive indicates the user exists locally and may be
	// authorized. Set on creation and on reactivation.
	UserStateActive UserState = "active"

	// UserStateInactive indicates the user was soft-deleted. The row is
	// retained for referential integrity, and authorization is denied
	// even when the user presents a still-valid token. A later created
	// event for the same subject reactivates the row.
	UserStateInactive UserState = "inactive"
)

// String returns the string representation of the user state.
func (s UserState) String() string {
	return string(s)
}

// Valid reports whether the user state is one of the recognized values.
func (s UserState) Valid() bool {
	switch s {
	case UserStateUnknown, UserStateActive, UserStateInactive:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from this state to next is
// allowed by the user lifecycle. Self-loops on persisted states are
// allowed (repeated updates and repeated deletes are idempotent), and
// nothing ever transitions back to unknown because rows are never removed.
func (s UserState) CanTransitionTo(next UserState) bool {
	switch s {
	case UserStateUnknown:
		return next == UserStateActive
	case UserStateActive:
		return next == UserStateActive || next == UserStateInactive
	case UserStateInactive:
		return next == UserStateActive || next == UserStateInactive
	default:
		return false
	}
}

// User represents the locally persisted projection of an externally managed
// identity. It is the record type the reconciler maintains and the
// authorization layer reads.
//
// Every field is annotated with both JSON tags (for API serialization) and
// db tags (for database mapping). At most one User exists per external
// subject id; ExternalID and Email carry unique indexes.
//
// User records are created via [NewUser]. Mutable fields (Email, FirstName,
// LastName, Role, Active, LastSignInAt, SyncedAt, UpdatedAt) are updated
// only by the reconciler, which enforces the newest-timestamp-wins rule.
// ID and ExternalID are immutable once set.
type User struct {
	// ID is the unique internal identifier for this user (UUID v4).
	// Domain records reference this id, never the external subject id.
	ID string `json:"id" db:"id"`

	// ExternalID is the subject id assigned by the external identity
	// provider. Immutable once set; unique across all users.
	ExternalID string `json:"external_id" db:"external_id"`

	// Email is the user's primary email address. Unique across all users.
	Email string `json:"email" db:"email"`

	// FirstName is the user's given name as reported by the provider.
	FirstName string `json:"first_name,omitempty" db:"first_name"`

	// LastName is the user's family name as reported by the provider.
	LastName string `json:"last_name,omitempty" db:"last_name"`

	// Role is the user's single platform role, derived from provider
	// metadata by the role resolver. See [Role] for valid values.
	Role Role `json:"role" db:"role"`

	// Active reports whether the user may be authorized. False after a
	// deleted event (soft delete). Inactive users keep their row and are
	// reactivated by a later created event.
	Active bool `json:"active" db:"active"`

	// LastSignInAt is the provider-side timestamp of the user's most
	// recent sign-in, when reported. Only ever moves forward; zero when
	// the provider has never reported one.
	LastSignInAt time.Time `json:"last_sign_in_at,omitempty" db:"last_sign_in_at"`

	// SyncedAt is the provider-side updated_at timestamp of the last sync
	// applied to this row. The reconciler compares incoming timestamps
	// against this value to enforce newest-wins ordering.
	SyncedAt time.Time `json:"synced_at" db:"synced_at"`

	// CreatedAt is the UTC timestamp when the local row was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the UTC timestamp when the local row was last modified.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewUser creates a new User row with a generated UUID, active state, and
// UTC timestamps. SyncedAt is left zero; the reconciler sets it to the
// provider-side timestamp of the sync that created the row.
//
// Returns an error if externalID or email is empty or the role is not a
// recognized value. These fields are required because a row without them
// cannot be matched to future syncs.
func NewUser(externalID, email string, role Role) (*User, error) {
	if externalID == "" {
		return nil, errors.New("models: user externalID must not be empty")
	}
	if email == "" {
		return nil, errors.New("models: user email must not be empty")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("models: invalid user role %q", role)
	}

	now := time.Now().UTC()
	return &User{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Email:      email,
		Role:       role,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Validate checks that all required fields are present and that the role
// is a recognized value. Returns the first validation error encountered,
// or nil if the user is valid.
//
// Required fields: ID, ExternalID, Email, Role (must be valid).
// Timestamps (CreatedAt, UpdatedAt) must not be zero.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("models: user ID is required")
	}
	if u.ExternalID == "" {
		return errors.New("models: user external ID is required")
	}
	if u.Email == "" {
		return errors.New("models: user email is required")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("models: invalid user role %q", u.Role)
	}
	if u.CreatedAt.IsZero() {
		return errors.New("models: user created_at is required")
	}
	if u.UpdatedAt.IsZero() {
		return errors.New("models: user updated_at is required")
	}
	return nil
}

// State returns the lifecycle state of this persisted row: active or
// inactive. Unknown is the state of subjects with no row at all, so it is
// never returned here.
func (u *User) State() UserState {
	if u.Active {
		return UserStateActive
	}
	return UserStateInactive
}

// DisplayName returns the user's name for display: first and last name
// joined, falling back to the email address when both are empty.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
