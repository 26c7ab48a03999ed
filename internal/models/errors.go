package models

import "errors"

// The four error kinds from spec.md §7. ValidationError, DuplicateOrderID,
// and UnknownOrder are ordinary rejections surfaced to the submitter.
// InconsistentState is fatal: it is first raised as a panic, caught at
// MatchingEngine's dispatch boundary, which poisons that symbol's
// engine; every later call on that engine returns it as an error
// rather than letting the caller retry against a corrupted book.
var (
	ErrValidation        = errors.New("validation error")
	ErrDuplicateOrderID  = errors.New("duplicate order id")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrInconsistentState = errors.New("inconsistent book state")
)
