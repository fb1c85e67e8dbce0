package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "standard bearer", header: "Bearer abc123", expected: "abc123"},
		{name: "lowercase bearer", header: "bearer abc123", expected: "abc123"},
		{name: "uppercase bearer", header: "BEARER abc123", expected: "abc123"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", expected: ""},
		{name: "empty header", header: "", expected: ""},
		{name: "prefix only", header: "Bearer ", expected: ""},
		{name: "no prefix", header: "abc123", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ExtractBearerToken(tt.header))
		})
	}
}

func TestSerializePrincipal_Nil(t *testing.T) {
	t.Parallel()
	encoded, err := SerializePrincipal(nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)
}

func TestSerializePrincipal_RoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC().Truncate(time.Second)
	original := &Principal{
		User: models.User{
			ID:         "b7a9c1d4-3e60-4f2b-9f7d-1c8a5e2b6d90",
			ExternalID: "user_prop",
			Email:      "prop@happypaws.example",
			Role:       models.RoleClinicManager,
			Active:     true,
			SyncedAt:   now,
		},
		Claims: &VerifiedClaims{
			Subject:   "user_prop",
			Email:     "prop@happypaws.example",
			IssuedAt:  now,
			ExpiresAt: now.Add(1 * time.Hour),
		},
	}

	encoded, err := SerializePrincipal(original)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DeserializePrincipal(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.Equal(t, original.User, decoded.User)
	require.NotNil(t, decoded.Claims)
	assert.Equal(t, "user_prop", decoded.Claims.Subject)
	assert.True(t, original.Claims.ExpiresAt.Equal(decoded.Claims.ExpiresAt))
}

func TestSerializePrincipal_SizeLimit(t *testing.T) {
	t.Parallel()
	principal := &Principal{
		User: models.User{ExternalID: "user_big"},
		Claims: &VerifiedClaims{
			Subject: "user_big",
			Raw:     map[string]any{"blob": strings.Repeat("x", MaxHeaderValueSize*2)},
		},
	}

	_, err := SerializePrincipal(principal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestDeserializePrincipal_Empty(t *testing.T) {
	t.Parallel()
	principal, err := DeserializePrincipal("")
	require.NoError(t, err)
	assert.Nil(t, principal)
}

func TestDeserializePrincipal_InvalidBase64(t *testing.T) {
	t.Parallel()
	_, err := DeserializePrincipal("!!!not-base64!!!")
	assert.Error(t, err)
}

func TestDeserializePrincipal_InvalidJSON(t *testing.T) {
	t.Parallel()
	encoded := base64.RawURLEncoding.EncodeToString([]byte("not json at all"))
	_, err := DeserializePrincipal(encoded)
	assert.Error(t, err)
}

func TestDeserializePrincipal_MissingSubject(t *testing.T) {
	t.Parallel()
	encoded := base64.RawURLEncoding.EncodeToString([]byte(`{"user":{"id":"abc"}}`))
	_, err := DeserializePrincipal(encoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing subject")
}

func TestPrincipalToHeaders(t *testing.T) {
	t.Parallel()
	principal := &Principal{User: models.User{ExternalID: "user_hdr", Role: models.RolePetOwner}}

	headers, err := principalToHeaders(principal, "identity-gateway")
	require.NoError(t, err)
	require.Contains(t, headers, HeaderPrincipal)
	assert.Equal(t, "identity-gateway", headers[HeaderCallerService])

	decoded, err := DeserializePrincipal(headers[HeaderPrincipal])
	require.NoError(t, err)
	assert.Equal(t, "user_hdr", decoded.ExternalID())
}

func TestPrincipalToHeaders_NoCallerService(t *testing.T) {
	t.Parallel()
	principal := &Principal{User: models.User{ExternalID: "user_hdr"}}

	headers, err := principalToHeaders(principal, "")
	require.NoError(t, err)
	assert.Contains(t, headers, HeaderPrincipal)
	assert.NotContains(t, headers, HeaderCallerService)
}

func TestPrincipalToHeaders_NilPrincipal(t *testing.T) {
	t.Parallel()
	headers, err := principalToHeaders(nil, "identity-gateway")
	require.NoError(t, err)
	assert.Nil(t, headers)
}
