package errors

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
)

// Error is the error type used across the identity core. Every failure
// that crosses a package boundary is an *Error carrying a registry
// [Code], a human-readable message, and optionally the underlying cause
// and structured details.
//
// Values are treated as immutable once constructed. [Error.WithDetail]
// copies rather than mutates, so an Error can be shared between
// goroutines, stored in a cache, and annotated at different call sites
// without coordination.
type Error struct {
	// Code identifies the failure in the registry, e.g. "AUTH_005".
	Code Code

	// Message describes the failure for humans. It may end up in an API
	// response or a log line, so it must never contain token contents,
	// key material, signatures, or internal paths.
	Message string

	// Cause is the wrapped underlying error, or nil. It participates in
	// errors.Is and errors.As chains through Unwrap.
	Cause error

	// Details holds structured context for operators: the offending key
	// id, a violated constraint name, the external subject id. Secret
	// material never goes in here.
	Details map[string]any
}

// Error renders "CODE: message" or "CODE: message: cause".
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to the standard errors package.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code's category to an HTTP status. The routing
// layer depends on authentication failures answering 401 and
// authorization failures answering 403; anything unrecognized is
// reported as a 500.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case catValidation:
		return http.StatusBadRequest
	case catAuthentication:
		return http.StatusUnauthorized
	case catAuthorization:
		return http.StatusForbidden
	case catNotFound:
		return http.StatusNotFound
	case catConflict:
		return http.StatusConflict
	case catInternal:
		return http.StatusInternalServerError
	case catUnavailable:
		return http.StatusServiceUnavailable
	case catTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail returns a copy of the error with one detail added. The
// receiver is left untouched; existing details carry over, and a
// duplicate key takes the new value.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// Format implements fmt.Formatter. %v, %s, and %q render the Error()
// string; %+v additionally expands details and the full cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// LogValue implements slog.LogValuer so an Error logs as a group of
// attributes instead of a flat string. Audit searches for security
// events (webhook signature mismatches, unknown key ids) key on the
// code attribute this produces. Detail keys are emitted in sorted order
// so identical errors produce identical log lines.
func (e *Error) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 3+len(e.Details))
	attrs = append(attrs,
		slog.String("code", string(e.Code)),
		slog.String("message", e.Message),
	)
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Details[k]))
	}
	return slog.GroupValue(attrs...)
}
