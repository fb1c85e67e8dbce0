package models

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType identifies the kind of change a provider webhook delivery
// announces. The recognized set is closed, but ingestion is
// forward-compatible: deliveries with unrecognized types are acknowledged
// and ignored so that a new provider event type never breaks ingestion of
// known ones.
type EventType string

const (
	// EventUserCreated announces a new provider account. Creates the
	// local user, or reactivates an inactive row when the provider
	// reuses a subject id.
	EventUserCreated EventType = "user.created"

	// EventUserUpdated announces changed account fields. Applied only
	// when the provider-side timestamp is newer than the last sync.
	EventUserUpdated EventType = "user.updated"

	// EventUserDeleted announces account deletion. Soft-deletes the
	// local row; deletion of an unknown subject is a silent no-op.
	EventUserDeleted EventType = "user.deleted"

	// EventSessionCreated announces a new provider session. Logged for
	// audit; no local state changes.
	EventSessionCreated EventType = "session.created"

	// EventSessionEnded announces session termination or revocation.
	// Invalidates the subject's cached verifications so revocation takes
	// effect before cached entries expire naturally.
	EventSessionEnded EventType = "session.ended"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Valid reports whether the event type is one of the recognized values.
func (t EventType) Valid() bool {
	switch t {
	case EventUserCreated, EventUserUpdated, EventUserDeleted,
		EventSessionCreated, EventSessionEnded:
		return true
	default:
		return false
	}
}

// IsUserEvent reports whether the event announces a user account change
// and therefore requires reconciliation. Unrecognized types are never user
// events, even when their name suggests one.
func (t EventType) IsUserEvent() bool {
	switch t {
	case EventUserCreated, EventUserUpdated, EventUserDeleted:
		return true
	default:
		return false
	}
}

// IsSessionEvent reports whether the event announces a session change.
func (t EventType) IsSessionEvent() bool {
	switch t {
	case EventSessionCreated, EventSessionEnded:
		return true
	default:
		return false
	}
}

// SyncSource identifies which path produced a reconciliation input. The
// reconciler uses it to break timestamp ties: webhook deliveries are the
// provider's authoritative event stream, so on equal timestamps the
// webhook-sourced update wins over a live-request sync.
type SyncSource string

const (
	// SyncSourceToken marks a sync derived from a verified token during
	// request handling.
	SyncSourceToken SyncSource = "token"

	// SyncSourceWebhook marks a sync derived from a provider webhook
	// delivery.
	SyncSourceWebhook SyncSource = "webhook"
)

// String returns the string representation of the sync source.
func (s SyncSource) String() string {
	return string(s)
}

// Valid reports whether the sync source is one of the recognized values.
func (s SyncSource) Valid() bool {
	switch s {
	case SyncSourceToken, SyncSourceWebhook:
		return true
	default:
		return false
	}
}

// ChangeEvent is one provider webhook delivery after signature
// verification and envelope parsing. Delivery is at-least-once and
// possibly out of order; DeliveryID is the deduplication key and the
// payload's provider-side timestamps encode ordering.
type ChangeEvent struct {
	// DeliveryID uniquely identifies this delivery attempt's logical
	// event. Redeliveries carry the same id, which is how duplicates are
	// absorbed.
	DeliveryID string `json:"delivery_id"`

	// Type is the kind of change announced. May be a value outside the
	// recognized set; see [EventType].
	Type EventType `json:"type"`

	// Subject is the external subject id the event concerns. Empty for
	// event types that do not reference a user.
	Subject string `json:"subject,omitempty"`

	// Data is the raw provider payload for this event. User events decode
	// into an [ExternalIdentity]; unrecognized types are left opaque.
	Data json.RawMessage `json:"data,omitempty"`

	// OccurredAt is the provider-side timestamp of the event.
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate checks that the event carries the fields ingestion depends on.
// Type only has to be present, not recognized: unknown types are valid
// events that ingestion acknowledges without processing. Recognized types
// all dispatch on the subject id, so for them Subject is required.
func (e *ChangeEvent) Validate() error {
	if e.DeliveryID == "" {
		return errors.New("models: event delivery ID is required")
	}
	if e.Type == "" {
		return errors.New("models: event type is required")
	}
	if e.Type.Valid() && e.Subject == "" {
		return errors.New("models: event subject is required")
	}
	return nil
}
