package services

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the economy core. Callers branch on these with
// errors.Is; none of them leaves a balance partially updated.
var (
	// ErrInsufficientFunds: a debit exceeded the account balance. Recoverable,
	// not retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrQuotaExceeded: every free tier for the action is exhausted in the
	// current window. Wrapped in a QuotaExceededError carrying the next window.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTransientConflict: concurrent-update contention survived the internal
	// retry budget. Safe for the caller to retry the whole request.
	ErrTransientConflict = errors.New("transient conflict, retry")

	// ErrInvalidConfiguration: a prize table or setting failed validation at
	// load time. The previously active configuration stays in effect.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNotFound: unknown account or key. Reads treat unknown accounts as
	// not-yet-created; writes create them lazily.
	ErrNotFound = errors.New("not found")
)

// QuotaExceededError wraps ErrQuotaExceeded with a hint for when the subject
// can try again (start of the next quota window).
type QuotaExceededError struct {
	ActionType      string
	NextAvailableAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s, next available at %s",
		e.ActionType, e.NextAvailableAt.UTC().Format(time.RFC3339))
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
