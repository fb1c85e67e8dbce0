package auth

import (
	"errors"
	"log/slog"
	"net/http"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// Middleware returns an HTTP middleware that authenticates the bearer
// token on each request and stores the resulting [Principal] in the
// request context.
//
// The middleware performs the following steps:
//  1. Extracts the "Authorization" header (bearer token)
//  2. Authenticates the token using the provided [Authenticator]
//  3. Stores the resulting [Principal] in the request context
//  4. Extracts the propagated caller service header
//  5. Passes the enriched request to the next handler
//
// Failures map to the status of the failing step: 401 for any token
// problem, 403 for an inactive account, 503 when a dependency needed to
// establish a fresh session is down. Response bodies are the generic
// status text; the reason detail stays in server logs and traces.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/pets", handlePets)
//	handler := auth.Middleware(authenticator)(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				writeAuthError(w, vgerr.New(vgerr.CodeAuthentication, "auth: missing or invalid authorization header"))
				return
			}

			principal, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			if caller := r.Header.Get(HeaderCallerService); caller != "" {
				ctx = ContextWithCallerService(ctx, caller)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns an HTTP middleware that rejects requests whose
// principal does not hold the given role or one that outranks it. It
// must run after [Middleware]; a request without a principal is
// rejected with 401.
//
// The response body for a denied request is the generic 403 status
// text. Which role was required is never revealed to the client.
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeAuthError(w, vgerr.New(vgerr.CodeAuthentication, "auth: no principal in request context"))
				return
			}
			if !principal.HasRole(role) {
				writeAuthError(w, vgerr.New(vgerr.CodeAuthorizationDenied, "auth: insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission returns an HTTP middleware that rejects requests
// whose principal's role does not grant the given permission, written
// as "resource:action". It must run after [Middleware].
//
// Use RequirePermission rather than [RequireRole] for endpoints gated
// on capability rather than rank: the role hierarchy and the permission
// grants are independent axes (see [DefaultRolePermissions]).
//
// RequirePermission panics if the permission string is malformed, since
// that is a programming error caught at route construction.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	perm, err := ParsePermission(permission)
	if err != nil {
		panic(err)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeAuthError(w, vgerr.New(vgerr.CodeAuthentication, "auth: no principal in request context"))
				return
			}
			if !principal.Can(perm.Resource, perm.Action) {
				writeAuthError(w, vgerr.New(vgerr.CodeAuthorizationDenied, "auth: insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError maps an authentication or authorization failure to its
// HTTP status and writes a generic body. Error detail (codes, roles,
// key ids) never reaches the client.
func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	var vgError *vgerr.Error
	if errors.As(err, &vgError) {
		status = vgError.HTTPStatus()
	}
	http.Error(w, http.StatusText(status), status)
}

// PropagatingRoundTripper wraps an [http.RoundTripper] to propagate the
// authenticated principal to outgoing HTTP requests. It reads the
// principal and caller service from the request context and adds them
// as HTTP headers.
//
// This is used when a service makes outgoing HTTP calls to downstream
// internal services while preserving who the request is on behalf of.
// The raw bearer token is never forwarded.
//
// Example:
//
//	client := &http.Client{
//	    Transport: auth.NewPropagatingRoundTripper("gateway", http.DefaultTransport),
//	}
//	// Requests made with this client automatically include principal headers.
//	resp, err := client.Do(req.WithContext(ctx))
type PropagatingRoundTripper struct {
	// serviceName identifies the current service to downstream callers.
	serviceName string

	// wrapped is the underlying RoundTripper that performs the actual HTTP call.
	wrapped http.RoundTripper
}

// NewPropagatingRoundTripper creates a new PropagatingRoundTripper that wraps
// the given transport. If transport is nil, [http.DefaultTransport] is used.
func NewPropagatingRoundTripper(serviceName string, transport http.RoundTripper) *PropagatingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &PropagatingRoundTripper{
		serviceName: serviceName,
		wrapped:     transport,
	}
}

// RoundTrip executes the HTTP request with principal headers injected
// from the request context. If no principal is present in the context,
// the request proceeds without modification.
//
// RoundTrip implements the [http.RoundTripper] interface.
func (t *PropagatingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		return t.wrapped.RoundTrip(r)
	}

	headers, err := principalToHeaders(principal, t.serviceName)
	if err != nil {
		// Log but don't fail: propagation failure should not prevent
		// the outgoing request. The downstream service will require its
		// own authentication.
		slog.WarnContext(r.Context(), "auth: failed to serialize principal for HTTP propagation",
			"error", err,
			"service", t.serviceName,
		)
		return t.wrapped.RoundTrip(r)
	}

	// Clone the request to avoid mutating the original.
	clone := r.Clone(r.Context())
	for k, v := range headers {
		clone.Header.Set(k, v)
	}

	return t.wrapped.RoundTrip(clone)
}
