package errors

import "errors"

// AsError pulls the first *Error out of err's chain. It returns nil and
// false when the chain contains none, which in practice means the error
// came from outside the identity core and should be wrapped before it
// crosses another boundary.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries exactly the given registry code.
// This is the check for branching on a specific failure:
//
//	if errors.HasCode(err, errors.CodeNotFoundUser) {
//	    // first sight of this subject; create the local user
//	}
//
// A nil err or an error with no *Error in its chain reports false.
func HasCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// inCategory reports whether err's code falls in any of the given
// categories.
func inCategory(err error, categories ...string) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	cat := e.Code.Category()
	for _, c := range categories {
		if cat == c {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a VAL_xxx error.
func IsValidation(err error) bool {
	return inCategory(err, catValidation)
}

// IsConflict reports whether err is a CONF_xxx error.
func IsConflict(err error) bool {
	return inCategory(err, catConflict)
}

// IsInternal reports whether err is an INT_xxx error.
func IsInternal(err error) bool {
	return inCategory(err, catInternal)
}

// IsUnavailable reports whether err is an UNAVAIL_xxx error.
func IsUnavailable(err error) bool {
	return inCategory(err, catUnavailable)
}

// IsTimeout reports whether err is a TIMEOUT_xxx error.
func IsTimeout(err error) bool {
	return inCategory(err, catTimeout)
}

// IsRetryable reports whether retrying the operation could help.
// Timeouts and unavailability are transient, so they qualify. Token
// verification failures never do: a token that failed signature or
// expiry checks fails them identically on every retry.
func IsRetryable(err error) bool {
	return inCategory(err, catTimeout, catUnavailable)
}

// IsServerError reports whether the failure is on our side (a 5xx
// status class: internal, unavailable, or timeout). The gateway uses
// this to decide between alerting and silently counting the error.
func IsServerError(err error) bool {
	return inCategory(err, catInternal, catUnavailable, catTimeout)
}
