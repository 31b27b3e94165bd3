package engine

import (
	"errors"
	"fmt"
	"time"
)

// Request-time errors are returned synchronously at scheduling time and never
// reach the queue. Execution-time errors are recorded on the follow record
// and job and surface only through status and history queries.
var (
	// ErrRateLimitExceeded is returned when a user's quota cannot cover the request
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrBatchTooLarge is returned when a batch exceeds the configured maximum;
	// the batch is rejected wholesale with zero jobs created
	ErrBatchTooLarge = errors.New("batch too large")
	// ErrSubscriptionInsufficient is returned when the user's plan does not
	// allow the requested batch operation
	ErrSubscriptionInsufficient = errors.New("subscription tier insufficient")
	// ErrAuthRequired marks a credential failure; permanent, never retried
	ErrAuthRequired = errors.New("authorization required")
	// ErrExternalService marks a transient upstream failure, retried up to
	// the job's max attempts
	ErrExternalService = errors.New("external service error")
	// ErrTargetAlreadyFollowed means the follow already exists upstream and
	// the job completes as a no-op
	ErrTargetAlreadyFollowed = errors.New("target already followed")
	// ErrQueueUnavailable is an infrastructure failure fatal to the request
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrJobNotFound is returned for status or cancel calls on unknown jobs
	ErrJobNotFound = errors.New("job not found")
	// ErrUserNotFound is returned when the scheduling user does not exist
	ErrUserNotFound = errors.New("user not found")
	// ErrTargetUnknown is returned when a requested target is not in the catalogue
	ErrTargetUnknown = errors.New("target not in catalogue")
)

// RateLimitError carries the limits snapshot alongside ErrRateLimitExceeded
// so callers can report counts and the next available slot.
type RateLimitError struct {
	Snapshot *LimitSnapshot
}

// Error implements the error interface
func (e *RateLimitError) Error() string {
	if e.Snapshot != nil && e.Snapshot.NextAvailableSlot != nil {
		return fmt.Sprintf("rate limit exceeded, next slot at %s",
			e.Snapshot.NextAvailableSlot.Format(time.RFC3339))
	}
	return "rate limit exceeded"
}

// Is makes errors.Is(err, ErrRateLimitExceeded) match
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
