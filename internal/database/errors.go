package database

import "errors"

var (
	// ErrNotFound is returned when a row does not exist or a credential is
	// inactive or expired.
	ErrNotFound = errors.New("not found")
	// ErrActiveExists is returned by IssueCredential together with the
	// credential that already holds the (user, channel) slot.
	ErrActiveExists = errors.New("active credential exists")
	// ErrLimitExceeded is returned when a credential has no uses left.
	ErrLimitExceeded = errors.New("usage limit exceeded")
	// ErrUnavailable is returned when lock contention outlasts the retry budget.
	ErrUnavailable = errors.New("store unavailable")
	ErrInvalid     = errors.New("invalid argument")
)

// failure reasons recorded on rejected usage events
const (
	reasonNotFound = "not_found"
	reasonExpired  = "expired"
	reasonInactive = "inactive"
	reasonLimit    = "limit_exceeded"
)
