package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// principalKey stores the authenticated Principal in the context.
	principalKey contextKey = iota

	// callerServiceKey stores the name of the calling service in the context.
	callerServiceKey

	// deliveryIDKey stores the webhook delivery id in the context during
	// event processing.
	deliveryIDKey
)

// ContextWithPrincipal returns a new context with the given Principal
// attached. The principal can later be retrieved with
// [PrincipalFromContext].
//
// This is typically called by gRPC server interceptors and HTTP middleware
// after successfully authenticating a bearer token.
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext retrieves the Principal from the context.
// Returns the principal and true if present, or nil and false if no
// principal has been set. This function never returns a non-nil principal
// with false.
//
// Example:
//
//	principal, ok := auth.PrincipalFromContext(ctx)
//	if !ok {
//	    return vgerr.New(vgerr.CodeAuthentication, "no principal in context")
//	}
//	log.Info("request from", "user", principal.ID(), "role", principal.Role())
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey).(*Principal)
	return principal, ok
}

// MustPrincipalFromContext retrieves the Principal from the context,
// panicking if none is present. This should only be used in code paths
// where a principal is guaranteed to exist (e.g., after authentication
// middleware).
func MustPrincipalFromContext(ctx context.Context) *Principal {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("auth: no principal in context; ensure authentication middleware is configured")
	}
	return principal
}

// ContextWithCallerService returns a new context with the calling service
// name attached. This identifies which internal service forwarded the
// request.
func ContextWithCallerService(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, callerServiceKey, serviceName)
}

// CallerServiceFromContext retrieves the calling service name from the
// context. Returns the service name and true if present, or an empty
// string and false if no caller service has been set (indicating a
// direct client call).
func CallerServiceFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(callerServiceKey).(string)
	return name, ok
}

// ContextWithDeliveryID returns a new context with the webhook delivery
// id attached. Event handlers use it to correlate log lines with the
// provider's delivery.
func ContextWithDeliveryID(ctx context.Context, deliveryID string) context.Context {
	return context.WithValue(ctx, deliveryIDKey, deliveryID)
}

// DeliveryIDFromContext retrieves the webhook delivery id from the
// context. Returns the id and true if present, or an empty string and
// false outside event processing.
func DeliveryIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deliveryIDKey).(string)
	return id, ok
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false if no trace is present.
//
// This allows correlating identity information with distributed traces,
// enabling operators to link authentication events to specific request flows.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// SpanIDFromContext extracts the OpenTelemetry span ID from the context.
// Returns the span ID as a hex string and true if a valid span is active,
// or an empty string and false if no span is present.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasSpanID() {
		return "", false
	}
	return spanCtx.SpanID().String(), true
}
