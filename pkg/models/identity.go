package models

import (
	"errors"
	"strings"
	"time"
)

// ExternalIdentity is the provider's view of a user, derived per request
// from verified token claims or per event from a webhook payload. It is
// ephemeral: the reconciler projects it onto a persisted [User] and the
// value itself is never stored.
//
// PublicMetadata carries the provider-side key/value map that the role
// resolver reads. It is signed (token) or authenticated (webhook) but not
// trusted beyond that: the resolver treats its contents as untrusted input
// and maps unrecognized values to [DefaultRole]. PrivateMetadata is
// carried for completeness but plays no part in authorization.
type ExternalIdentity struct {
	// Subject is the provider's stable identifier for the user. This is
	// the join key against [User.ExternalID].
	Subject string `json:"subject"`

	// Email is the user's primary email address.
	Email string `json:"email"`

	// Emails lists every address attached to the account, primary first
	// when the provider marks one.
	Emails []string `json:"emails,omitempty"`

	// FirstName is the user's given name.
	FirstName string `json:"first_name,omitempty"`

	// LastName is the user's family name.
	LastName string `json:"last_name,omitempty"`

	// PublicMetadata is the provider-side metadata visible in token
	// claims. The role resolver reads the role key from here.
	PublicMetadata map[string]any `json:"public_metadata,omitempty"`

	// PrivateMetadata is provider-side metadata delivered only in webhook
	// payloads, never in tokens.
	PrivateMetadata map[string]any `json:"private_metadata,omitempty"`

	// IssuedAt is when the carrying token was issued. Zero for identities
	// derived from webhook payloads.
	IssuedAt time.Time `json:"issued_at,omitempty"`

	// UpdatedAt is the provider-side last-modification timestamp of the
	// account. This value drives newest-wins reconciliation; when the
	// provider omits it, callers fall back to IssuedAt.
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// LastSignInAt is the provider-side timestamp of the user's most
	// recent sign-in, when reported.
	LastSignInAt time.Time `json:"last_sign_in_at,omitempty"`
}

// Validate checks that the identity carries the fields reconciliation
// depends on. Returns the first validation error encountered, or nil if
// the identity is usable.
func (id *ExternalIdentity) Validate() error {
	if id.Subject == "" {
		return errors.New("models: identity subject is required")
	}
	if id.Email == "" {
		return errors.New("models: identity email is required")
	}
	return nil
}

// SyncTimestamp returns the provider-side timestamp that orders this
// identity against previously applied syncs: UpdatedAt when present,
// otherwise IssuedAt. Zero when the identity carries neither.
func (id *ExternalIdentity) SyncTimestamp() time.Time {
	if !id.UpdatedAt.IsZero() {
		return id.UpdatedAt
	}
	return id.IssuedAt
}

// DisplayName returns the identity's name for display: first and last
// name joined, falling back to the email address when both are empty.
func (id *ExternalIdentity) DisplayName() string {
	name := strings.TrimSpace(id.FirstName + " " + id.LastName)
	if name == "" {
		return id.Email
	}
	return name
}
