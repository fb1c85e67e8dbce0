package errors

import "strings"

// Code is a machine-readable error code in the form CATEGORY_NNN, where
// CATEGORY names the failure class (AUTH, VAL, ...) and NNN is a
// three-digit registry number.
//
// Codes are stable identifiers: once assigned they never change meaning
// or get reused, so dashboards, alerts, and client-side handling can
// key on them across releases. The assignment below is the registry for
// the identity core; numbers within a category grow monotonically.
type Code string

// Category prefixes. Each maps to one HTTP status class, which is the
// contract [Error.HTTPStatus] implements.
const (
	catValidation     = "VAL"     // 400 Bad Request
	catAuthentication = "AUTH"    // 401 Unauthorized
	catAuthorization  = "AUTHZ"   // 403 Forbidden
	catNotFound       = "NF"      // 404 Not Found
	catConflict       = "CONF"    // 409 Conflict
	catInternal       = "INT"     // 500 Internal Server Error
	catUnavailable    = "UNAVAIL" // 503 Service Unavailable
	catTimeout        = "TIMEOUT" // 504 Gateway Timeout
)

const (
	// Validation (VAL_xxx). Rejected input: request payloads, webhook
	// envelopes, configuration values.

	// CodeValidation is a general validation failure, including change
	// events whose body does not parse as JSON.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired marks a missing required field.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat marks a field whose value has the wrong shape.
	CodeValidationFormat Code = "VAL_003"

	// CodeValidationRange marks a value outside its allowed range.
	CodeValidationRange Code = "VAL_004"

	// Authentication (AUTH_xxx). Token verification failures. These are
	// deterministic: the same token fails the same way every time, so
	// none of them is retryable.

	// CodeAuthentication is a general authentication failure, such as a
	// missing bearer token.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired means the token's exp claim is in the
	// past.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationMalformed means the token is structurally
	// unparseable: wrong segment count, bad base64, oversized, or alg
	// "none".
	CodeAuthenticationMalformed Code = "AUTH_003"

	// CodeAuthenticationSignature means the signature does not verify
	// against the resolved public key.
	CodeAuthenticationSignature Code = "AUTH_004"

	// CodeAuthenticationUnknownKey means the token's kid resolves to no
	// key in the ring, even after a forced refresh.
	CodeAuthenticationUnknownKey Code = "AUTH_005"

	// CodeAuthenticationIssuer means the issuer or audience claim does
	// not match the configured values.
	CodeAuthenticationIssuer Code = "AUTH_006"

	// CodeAuthenticationWebhookSignature means an inbound change
	// event's HMAC header does not match the shared-secret computation.
	// Always logged as a security event before rejection.
	CodeAuthenticationWebhookSignature Code = "AUTH_007"

	// Authorization (AUTHZ_xxx). The principal is authenticated but not
	// permitted. Responses never say which role would have sufficed.

	// CodeAuthorization is a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied means access to the resource is denied.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeAuthorizationInactiveUser means the principal maps to a
	// deactivated local user.
	CodeAuthorizationInactiveUser Code = "AUTHZ_003"

	// Not found (NF_xxx).

	// CodeNotFound is a general not-found failure.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser means no local user exists for the subject id.
	CodeNotFoundUser Code = "NF_002"

	// CodeNotFoundResource means the requested resource does not exist.
	CodeNotFoundResource Code = "NF_003"

	// Conflict (CONF_xxx). The operation clashes with current state.

	// CodeConflict is a general conflict.
	CodeConflict Code = "CONF_001"

	// CodeConflictAlreadyExists means a uniqueness rule fired: the
	// subject id or email is already taken.
	CodeConflictAlreadyExists Code = "CONF_002"

	// CodeConflictStaleSync means a reconciliation update carried an
	// updated_at older than (or tying with) the stored record. The
	// newest-wins rule absorbs it; logged, never surfaced to callers as
	// a failure.
	CodeConflictStaleSync Code = "CONF_003"

	// Internal (INT_xxx). Unexpected failures on our side.

	// CodeInternal is a general internal failure.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase means a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration means the service is misconfigured.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable (UNAVAIL_xxx). A dependency is temporarily down.
	// Retryable.

	// CodeUnavailable is a general unavailability failure.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency means a dependent service is
	// unreachable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeUnavailableOverloaded means the service is shedding load.
	CodeUnavailableOverloaded Code = "UNAVAIL_003"

	// CodeUnavailableKeyFetch means the identity provider's key
	// endpoint could not be fetched. The previous key ring stays usable
	// for verification until a fetch succeeds.
	CodeUnavailableKeyFetch Code = "UNAVAIL_004"

	// Timeout (TIMEOUT_xxx). The operation ran out of time. Retryable.

	// CodeTimeout is a general timeout.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase means a database operation exceeded its
	// deadline.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency means a call to a dependent service
	// exceeded its deadline.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the code as its registry string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the underscore ("AUTH_005" yields
// "AUTH"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i >= 0 {
		return s[:i]
	}
	return s
}
