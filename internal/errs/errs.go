// Package errs defines the failure taxonomy shared by the lifecycle
// service and the HTTP layer. Handlers map each kind to a fixed status
// code with errors.Is; services wrap these sentinels with context.
package errs

import "errors"

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthenticated marks a missing or invalid credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden marks an authenticated caller that is not the right
	// actor for the operation (e.g. claiming your own task).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound marks an unresolvable task or account id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an operation that is not legal for the
	// task's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientCredits marks a balance too low for the requested
	// debit.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Code returns the stable machine-readable code for err, or "internal"
// when the error is not part of the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	default:
		return "internal"
	}
}
