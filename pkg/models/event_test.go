package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// EventType
// ---------------------------------------------------------------------------

func TestEventType_String(t *testing.T) {
	tests := []struct {
		name     string
		typ      EventType
		expected string
	}{
		{name: "user created", typ: EventUserCreated, expected: "user.created"},
		{name: "user updated", typ: EventUserUpdated, expected: "user.updated"},
		{name: "user deleted", typ: EventUserDeleted, expected: "user.deleted"},
		{name: "session created", typ: EventSessionCreated, expected: "session.created"},
		{name: "session ended", typ: EventSessionEnded, expected: "session.ended"},
		{name: "custom", typ: EventType("org.created"), expected: "org.created"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.String(); got != tt.expected {
				t.Errorf("EventType.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEventType_Valid(t *testing.T) {
	tests := []struct {
		name     string
		typ      EventType
		expected bool
	}{
		{name: "user created is valid", typ: EventUserCreated, expected: true},
		{name: "user updated is valid", typ: EventUserUpdated, expected: true},
		{name: "user deleted is valid", typ: EventUserDeleted, expected: true},
		{name: "session created is valid", typ: EventSessionCreated, expected: true},
		{name: "session ended is valid", typ: EventSessionEnded, expected: true},
		{name: "empty is invalid", typ: EventType(""), expected: false},
		{name: "unrecognized is invalid", typ: EventType("org.created"), expected: false},
		{name: "unrecognized user event is invalid", typ: EventType("user.archived"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.Valid(); got != tt.expected {
				t.Errorf("EventType.Valid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEventType_IsUserEvent(t *testing.T) {
	tests := []struct {
		name     string
		typ      EventType
		expected bool
	}{
		{name: "user created", typ: EventUserCreated, expected: true},
		{name: "user updated", typ: EventUserUpdated, expected: true},
		{name: "user deleted", typ: EventUserDeleted, expected: true},
		{name: "session created", typ: EventSessionCreated, expected: false},
		{name: "session ended", typ: EventSessionEnded, expected: false},
		{name: "unrecognized user-prefixed type", typ: EventType("user.archived"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.IsUserEvent(); got != tt.expected {
				t.Errorf("EventType.IsUserEvent() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEventType_IsSessionEvent(t *testing.T) {
	tests := []struct {
		name     string
		typ      EventType
		expected bool
	}{
		{name: "session created", typ: EventSessionCreated, expected: true},
		{name: "session ended", typ: EventSessionEnded, expected: true},
		{name: "user created", typ: EventUserCreated, expected: false},
		{name: "unrecognized session-prefixed type", typ: EventType("session.pending"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.IsSessionEvent(); got != tt.expected {
				t.Errorf("EventType.IsSessionEvent() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// SyncSource
// ---------------------------------------------------------------------------

func TestSyncSource_String(t *testing.T) {
	if got := SyncSourceToken.String(); got != "token" {
		t.Errorf("SyncSourceToken.String() = %q, want %q", got, "token")
	}
	if got := SyncSourceWebhook.String(); got != "webhook" {
		t.Errorf("SyncSourceWebhook.String() = %q, want %q", got, "webhook")
	}
}

func TestSyncSource_Valid(t *testing.T) {
	tests := []struct {
		name     string
		source   SyncSource
		expected bool
	}{
		{name: "token is valid", source: SyncSourceToken, expected: true},
		{name: "webhook is valid", source: SyncSourceWebhook, expected: true},
		{name: "empty is invalid", source: SyncSource(""), expected: false},
		{name: "unknown is invalid", source: SyncSource("batch"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.source.Valid(); got != tt.expected {
				t.Errorf("SyncSource.Valid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ChangeEvent
// ---------------------------------------------------------------------------

func TestChangeEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   ChangeEvent
		wantErr string
	}{
		{
			name: "valid user event",
			event: ChangeEvent{
				DeliveryID: "msg_1",
				Type:       EventUserCreated,
				Subject:    "ext_123",
				OccurredAt: time.Now().UTC(),
			},
		},
		{
			name: "valid session event",
			event: ChangeEvent{
				DeliveryID: "msg_2",
				Type:       EventSessionEnded,
				Subject:    "ext_123",
			},
		},
		{
			name: "unknown type without subject is valid",
			event: ChangeEvent{
				DeliveryID: "msg_3",
				Type:       EventType("org.created"),
			},
		},
		{
			name: "missing delivery id",
			event: ChangeEvent{
				Type:    EventUserCreated,
				Subject: "ext_123",
			},
			wantErr: "delivery ID",
		},
		{
			name: "missing type",
			event: ChangeEvent{
				DeliveryID: "msg_4",
				Subject:    "ext_123",
			},
			wantErr: "type",
		},
		{
			name: "recognized type missing subject",
			event: ChangeEvent{
				DeliveryID: "msg_5",
				Type:       EventUserDeleted,
			},
			wantErr: "subject",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() should return an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestChangeEvent_JSONRoundTrip(t *testing.T) {
	event := ChangeEvent{
		DeliveryID: "msg_2Zx9",
		Type:       EventUserUpdated,
		Subject:    "ext_123",
		Data:       json.RawMessage(`{"id":"ext_123","first_name":"Ada"}`),
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("json.Marshal error: %v", err)
	}

	var decoded ChangeEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}

	if decoded.DeliveryID != event.DeliveryID {
		t.Errorf("DeliveryID = %q, want %q", decoded.DeliveryID, event.DeliveryID)
	}
	if decoded.Type != event.Type {
		t.Errorf("Type = %q, want %q", decoded.Type, event.Type)
	}
	if decoded.Subject != event.Subject {
		t.Errorf("Subject = %q, want %q", decoded.Subject, event.Subject)
	}
	if string(decoded.Data) != string(event.Data) {
		t.Errorf("Data = %s, want %s", decoded.Data, event.Data)
	}
	if !decoded.OccurredAt.Equal(event.OccurredAt) {
		t.Errorf("OccurredAt = %v, want %v", decoded.OccurredAt, event.OccurredAt)
	}
}
