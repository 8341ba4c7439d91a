package attendance

import "errors"

// Lifecycle misuse.
var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotOwner          = errors.New("session belongs to another instructor")
	ErrInvalidKind       = errors.New("invalid session kind")
)

// Expected scan outcomes. These are user facing and never logged as faults.
var (
	ErrSessionNotActive = errors.New("session not active")
	ErrNotEnrolled      = errors.New("student not enrolled in session track")
	ErrTokenInvalid     = errors.New("token expired or invalid")
	ErrMalformedPayload = errors.New("malformed scan payload")
)

// ErrRecordMissing means the bulk creation at session start skipped an
// enrolled student.
var ErrRecordMissing = errors.New("attendance record missing")

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")
