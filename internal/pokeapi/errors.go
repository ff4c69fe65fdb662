package pokeapi

import (
	"fmt"
	"time"
)

// NotFoundError reports that the upstream has no species with the id.
// It is permanent and never retried.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("species %d not found upstream", e.ID)
}

// NotSentError reports that ctx ended before any request for the id went
// out, typically while waiting on the rate limiter.
type NotSentError struct {
	ID  int
	Err error
}

func (e *NotSentError) Error() string {
	return fmt.Sprintf("species %d: not requested: %v", e.ID, e.Err)
}

func (e *NotSentError) Unwrap() error { return e.Err }

// TransientError is a retryable failure: network errors, timeouts, 5xx, 408
// and 429. Fetch returns it once the retry budget is spent.
type TransientError struct {
	ID         int
	StatusCode int
	Attempts   int
	Wait       time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	msg := fmt.Sprintf("species %d: transient upstream failure", e.ID)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientError) Unwrap() error { return e.Err }

// RetryAfter exposes the upstream's Retry-After hint to the retry policy.
func (e *TransientError) RetryAfter() time.Duration { return e.Wait }

// MalformedResponseError means the body could not be decoded into a JSON
// object. Not retried.
type MalformedResponseError struct {
	ID  int
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("species %d: malformed response: %v", e.ID, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// StatusError covers unexpected 4xx responses other than 404, 408 and 429.
type StatusError struct {
	ID         int
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("species %d: unexpected upstream status %d", e.ID, e.StatusCode)
}
