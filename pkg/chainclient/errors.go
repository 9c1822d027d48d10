package chainclient

import "errors"

var (
	// ErrUnreachable indicates the service did not answer within the call budget.
	// Callers treat this as "cannot assess", not as a critical condition.
	ErrUnreachable = errors.New("chainclient: service unreachable")
	// ErrMalformedResponse indicates the service answered with an unexpected
	// JSON shape or an unparsable value. Degrades like ErrUnreachable but is
	// logged distinctly for diagnosis.
	ErrMalformedResponse = errors.New("chainclient: malformed response")
)
