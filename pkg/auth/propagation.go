package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Header and metadata key constants for principal propagation.
// These keys are used in both HTTP headers and gRPC metadata to carry
// the authenticated principal across internal service boundaries.
//
// All custom headers use the "x-" prefix to distinguish them from
// standard HTTP headers. Structured values are base64url-encoded JSON
// to ensure safe transport.
const (
	// HeaderAuthorization is the standard authorization header carrying the
	// bearer token. This is the primary authentication credential used by
	// server interceptors and middleware to authenticate the caller.
	HeaderAuthorization = "authorization"

	// HeaderPrincipal carries the authenticated principal as a
	// base64url-encoded JSON object, set by client-side interceptors for
	// downstream services.
	//
	// Security: the value is encoded for transport safety, not signed.
	// Only listeners reachable exclusively from trusted internal peers
	// may accept it; edge listeners must authenticate bearer tokens.
	HeaderPrincipal = "x-principal"

	// HeaderCallerService carries the name of the service that forwarded
	// the request. This allows the receiving service to identify its
	// immediate upstream caller for audit purposes.
	HeaderCallerService = "x-caller-service"
)

// MaxHeaderValueSize is the maximum allowed size in bytes for a single
// serialized header value. This limit prevents oversized headers that
// would be rejected by HTTP/2 (default SETTINGS_MAX_HEADER_LIST_SIZE is
// 16 KB) or HTTP/1.1 servers (commonly limited to 8 KB per header).
const MaxHeaderValueSize = 8192

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively.
// Returns an empty string if the header is empty or does not have a bearer prefix.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	// Case-insensitive comparison for "Bearer " prefix.
	prefix := authHeader[:len(bearerPrefix)]
	if !strings.EqualFold(prefix, bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}

// SerializePrincipal encodes a principal as a base64url-encoded JSON
// string safe for use in HTTP headers and gRPC metadata values. The raw
// token is never part of the encoding; downstream services receive the
// verification outcome, not the credential.
//
// Returns an empty string if principal is nil. Returns an error if the
// principal cannot be marshaled or the encoded output exceeds
// [MaxHeaderValueSize].
func SerializePrincipal(principal *Principal) (string, error) {
	if principal == nil {
		return "", nil
	}
	data, err := json.Marshal(principal)
	if err != nil {
		return "", fmt.Errorf("auth: failed to marshal principal: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(data)
	if len(encoded) > MaxHeaderValueSize {
		return "", fmt.Errorf("auth: serialized principal size %d exceeds maximum %d bytes", len(encoded), MaxHeaderValueSize)
	}
	return encoded, nil
}

// DeserializePrincipal decodes a base64url-encoded JSON string into a
// [Principal]. Returns nil if the encoded string is empty. Returns an
// error if the string cannot be decoded or parsed, or decodes to a
// principal without a subject.
//
// Callers must only pass values received from trusted internal peers;
// the encoding carries no signature.
func DeserializePrincipal(encoded string) (*Principal, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode principal: %w", err)
	}
	var principal Principal
	if err := json.Unmarshal(data, &principal); err != nil {
		return nil, fmt.Errorf("auth: failed to unmarshal principal: %w", err)
	}
	if principal.User.ExternalID == "" {
		return nil, fmt.Errorf("auth: propagated principal missing subject")
	}
	return &principal, nil
}

// principalToHeaders serializes a principal and caller service into a
// set of key-value pairs suitable for HTTP headers or gRPC metadata.
// Returns nil if principal is nil.
func principalToHeaders(principal *Principal, callerService string) (map[string]string, error) {
	if principal == nil {
		return nil, nil
	}

	encoded, err := SerializePrincipal(principal)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		HeaderPrincipal: encoded,
	}
	if callerService != "" {
		headers[HeaderCallerService] = callerService
	}
	return headers, nil
}
