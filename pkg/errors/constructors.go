package errors

import "fmt"

// New builds an *Error from a registry code and a fixed message.
//
//	return errors.New(errors.CodeAuthenticationExpired, "auth: token has expired")
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf is New with a Sprintf-formatted message. Keep identifiers like
// key ids and subject ids in the format arguments, never secrets.
//
//	return errors.Newf(errors.CodeAuthenticationUnknownKey, "auth: key %q not in current key set", kid)
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a code and message to an underlying error, which
// becomes the Cause and stays reachable through errors.Is and
// errors.As. Wrapping nil yields nil, so the straight-line form is
// safe:
//
//	return errors.Wrap(row.Scan(&u.ID), errors.CodeInternalDatabase, "store: scan user")
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf is Wrap with a Sprintf-formatted message. Wrapping nil yields
// nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}
