// Package errors defines the structured error model shared by every
// package in the identity core. A failure is represented by [Error],
// which pairs a registry [Code] with a message and, optionally, the
// wrapped cause and structured details. Callers import the package
// under the vgerr alias to leave the standard errors package free:
//
//	import vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
//
// # Codes
//
// A Code has the form CATEGORY_NNN, e.g. "AUTH_005". The category
// fixes the HTTP status class (AUTH answers 401, AUTHZ answers 403)
// and the number pins the exact failure so dashboards and clients can
// key on it. The full registry lives in codes.go; codes are never
// renumbered or reused.
//
// # Constructing
//
// Fresh failures get [New] or [Newf]; failures caused by another error
// get [Wrap] or [Wrapf], which keep the cause reachable through
// errors.Is and errors.As:
//
//	if err := fetchKeys(ctx); err != nil {
//	    return vgerr.Wrap(err, vgerr.CodeUnavailableKeyFetch, "auth: key endpoint fetch failed")
//	}
//
// # Inspecting
//
// Branch on an exact code with [HasCode], or on the broader class with
// the category predicates:
//
//	if vgerr.HasCode(err, vgerr.CodeNotFoundUser) {
//	    return r.createFromClaims(ctx, claims)
//	}
//	if vgerr.IsRetryable(err) {
//	    return backoff.Retry(ctx, op)
//	}
//
// Errors log as structured groups through slog.LogValuer, so passing
// an *Error straight to slog yields searchable code and message
// attributes without manual unpacking.
package errors
