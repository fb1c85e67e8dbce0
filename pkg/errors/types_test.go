package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Code: CodeValidation, Message: "event body is not valid JSON"},
			want: "VAL_001: event body is not valid JSON",
		},
		{
			name: "with cause",
			err: &Error{
				Code:    CodeInternalDatabase,
				Message: "store: select user failed",
				Cause:   errors.New("connection refused"),
			},
			want: "INT_002: store: select user failed: connection refused",
		},
		{
			name: "nested platform error renders both codes",
			err: &Error{
				Code:    CodeUnavailableKeyFetch,
				Message: "auth: key endpoint fetch failed",
				Cause:   &Error{Code: CodeTimeout, Message: "fetch timed out"},
			},
			want: "UNAVAIL_004: auth: key endpoint fetch failed: TIMEOUT_001: fetch timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := &Error{Code: CodeUnavailableDependency, Message: "redis unreachable", Cause: cause}

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))

	var target *Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, CodeUnavailableDependency, target.Code)

	noCause := &Error{Code: CodeValidation, Message: "missing field"}
	assert.Nil(t, noCause.Unwrap())
}

// Walking the full registry through HTTPStatus pins the category to
// status mapping for every assigned code at once.
func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()

	statusByCategory := map[string]int{
		catValidation:     http.StatusBadRequest,
		catAuthentication: http.StatusUnauthorized,
		catAuthorization:  http.StatusForbidden,
		catNotFound:       http.StatusNotFound,
		catConflict:       http.StatusConflict,
		catInternal:       http.StatusInternalServerError,
		catUnavailable:    http.StatusServiceUnavailable,
		catTimeout:        http.StatusGatewayTimeout,
	}

	for _, code := range registry {
		err := &Error{Code: code, Message: "x"}
		assert.Equal(t, statusByCategory[code.Category()], err.HTTPStatus(), "code %q", code)
	}
}

func TestError_HTTPStatus_UnknownCategoryIs500(t *testing.T) {
	t.Parallel()

	err := &Error{Code: Code("MYSTERY_001"), Message: "x"}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestError_WithDetail_CopiesOnWrite(t *testing.T) {
	t.Parallel()

	original := &Error{
		Code:    CodeConflictAlreadyExists,
		Message: "store: user user_vet_1 already exists",
		Details: map[string]any{"constraint": "users_external_id_key"},
	}

	annotated := original.WithDetail("attempt", 2)

	assert.NotContains(t, original.Details, "attempt")
	assert.Equal(t, "users_external_id_key", annotated.Details["constraint"])
	assert.Equal(t, 2, annotated.Details["attempt"])
	assert.Equal(t, original.Code, annotated.Code)
	assert.Equal(t, original.Message, annotated.Message)
}

func TestError_WithDetail_OverwritesDuplicateKey(t *testing.T) {
	t.Parallel()

	original := &Error{Code: CodeValidation, Message: "x", Details: map[string]any{"field": "email"}}
	annotated := original.WithDetail("field", "external_id")

	assert.Equal(t, "email", original.Details["field"])
	assert.Equal(t, "external_id", annotated.Details["field"])
}

func TestError_WithDetail_ChainsFromNilDetails(t *testing.T) {
	t.Parallel()

	err := New(CodeAuthenticationUnknownKey, "auth: key not in current key set").
		WithDetail("kid", "key-2026-07").
		WithDetail("ring_size", 3)

	assert.Equal(t, "key-2026-07", err.Details["kid"])
	assert.Equal(t, 3, err.Details["ring_size"])
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	withDetail := &Error{
		Code:    CodeValidation,
		Message: "missing field",
		Details: map[string]any{"field": "email"},
	}
	withCause := &Error{
		Code:    CodeInternal,
		Message: "operation failed",
		Cause:   errors.New("underlying"),
	}

	tests := []struct {
		name     string
		format   string
		err      *Error
		contains []string
	}{
		{"plain v", "%v", withCause, []string{"INT_001: operation failed: underlying"}},
		{"s", "%s", withDetail, []string{"VAL_001: missing field"}},
		{"q", "%q", withDetail, []string{`"VAL_001: missing field"`}},
		{"verbose with details", "%+v", withDetail, []string{"Error{", `Code: "VAL_001"`, "Details:", "email", "}"}},
		{"verbose with cause", "%+v", withCause, []string{"Error{", `Code: "INT_001"`, "Cause:", "underlying", "}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := fmt.Sprintf(tt.format, tt.err)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestError_LogValue(t *testing.T) {
	t.Parallel()

	err := &Error{
		Code:    CodeAuthenticationWebhookSignature,
		Message: "webhook: signature mismatch",
		Cause:   errors.New("hmac compare failed"),
		Details: map[string]any{"delivery_id": "evt_42"},
	}

	val := err.LogValue()
	require.Equal(t, slog.KindGroup, val.Kind())

	got := make(map[string]slog.Value)
	for _, attr := range val.Group() {
		got[attr.Key] = attr.Value
	}

	assert.Equal(t, "AUTH_007", got["code"].String())
	assert.Equal(t, "webhook: signature mismatch", got["message"].String())
	assert.Equal(t, "hmac compare failed", got["cause"].String())
	assert.Equal(t, "evt_42", got["delivery_id"].String())
}

func TestError_LogValue_DetailKeysSorted(t *testing.T) {
	t.Parallel()

	err := &Error{
		Code:    CodeConflictStaleSync,
		Message: "stale update absorbed",
		Details: map[string]any{
			"subject":    "user_vet_1",
			"delta_ms":   -1500,
			"event_type": "user.updated",
		},
	}

	var keys []string
	for _, attr := range err.LogValue().Group() {
		keys = append(keys, attr.Key)
	}
	assert.Equal(t, []string{"code", "message", "delta_ms", "event_type", "subject"}, keys)
}

// An *Error is shared between goroutines (cached verdicts, sentinel
// errors), so nothing may mutate the receiver.
func TestError_MethodsDoNotMutate(t *testing.T) {
	t.Parallel()

	err := &Error{
		Code:    CodeValidation,
		Message: "original",
		Details: map[string]any{"field": "email"},
	}

	_ = err.Error()
	_ = err.HTTPStatus()
	_ = err.LogValue()
	_ = err.WithDetail("field", "changed")
	_ = err.WithDetail("extra", true)

	assert.Equal(t, CodeValidation, err.Code)
	assert.Equal(t, "original", err.Message)
	assert.Equal(t, map[string]any{"field": "email"}, err.Details)
}
