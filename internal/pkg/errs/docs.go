// Package errs holds the typed errors shared by the domain, the repositories
// and the HTTP layer.
//
// Every type wraps a sentinel so callers branch with errors.Is and read
// details with errors.As:
//
//	ErrValueIsRequired   -> *ValueIsRequiredError    (missing input)
//	ErrValueIsInvalid    -> *ValueIsInvalidError     (bad input, illegal state transition)
//	ErrValueIsOutOfRange -> *ValueIsOutOfRangeError  (numeric bounds, e.g. retention days)
//	ErrObjectNotFound    -> *ObjectNotFoundError     (missing job or authorization)
//
// Each type has a constructor with and without a cause. The admin API maps
// ErrObjectNotFound to 404 and the value errors to 400.
package errs
