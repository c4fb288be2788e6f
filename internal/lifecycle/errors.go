package lifecycle

import "errors"

// Failure taxonomy for lifecycle operations. Handlers map these to HTTP
// status codes with errors.Is; everything else is treated as a transport
// failure and surfaced, since request mutations are user-intended
// transactions.
var (
	// ErrValidation: malformed input. No state was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrConflict: a concurrent actor won the conditional update. The caller
	// should re-read and refresh.
	ErrConflict = errors.New("conflicting update")
	// ErrInvalidState: the operation is not legal from the request's current
	// state (e.g. anything after completed).
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrPermission: the caller lacks the role or ownership required. No
	// state was mutated.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound: no such request.
	ErrNotFound = errors.New("request not found")
)
