// Package testutil holds the error-code assertions shared by test
// suites across the identity core. Scenario fixtures stay local to the
// package under test; only the code-checking idiom is common enough to
// hoist.
//
// Helpers take [testing.TB], call t.Helper(), and report failures at
// the caller's line.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// RequireErrorCode halts the test unless err carries the expected
// registry code. Use it for canary checks where a wrong code means the
// remaining assertions can only produce noise.
func RequireErrorCode(t testing.TB, err error, code vgerr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	vgErr, ok := vgerr.AsError(err)
	require.True(t, ok, "expected *vgerr.Error, got %T: %v", err, err)
	require.Equal(t, code, vgErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		vgErr.Code, code, vgErr.Message)
}

// AssertErrorCode records a failure, without halting, unless err
// carries the expected registry code. Use it when each check stands on
// its own and the test should report all of them.
func AssertErrorCode(t testing.TB, err error, code vgerr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	vgErr, ok := vgerr.AsError(err)
	if !assert.True(t, ok, "expected *vgerr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, vgErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		vgErr.Code, code, vgErr.Message)
}
