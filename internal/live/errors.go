package live

import "errors"

// Sentinel errors for session and registry operations. Callers test with
// errors.Is; the gateway and HTTP handlers map them to wire codes.
var (
	// ErrInvalidTransition is returned when an operation is not valid in the
	// session's current status.
	ErrInvalidTransition = errors.New("operation not valid in current session status")

	// ErrUnauthorized is returned for host-only operations attempted without
	// the host binding, and for removed participants.
	ErrUnauthorized = errors.New("not authorized")

	// ErrTooLate is returned when an answer arrives after the question
	// deadline or for a question that is no longer current.
	ErrTooLate = errors.New("answer window closed")

	// ErrDuplicateAnswer is returned when the ledger already holds an answer
	// for the (question, participant) pair.
	ErrDuplicateAnswer = errors.New("answer already recorded")

	// ErrNotFound is returned for unknown room codes, unknown participants,
	// and sessions that have already ended.
	ErrNotFound = errors.New("not found")

	// ErrMalformed is returned for structurally invalid input that survived
	// gateway validation, such as an option ID the question does not have.
	ErrMalformed = errors.New("malformed request")
)
