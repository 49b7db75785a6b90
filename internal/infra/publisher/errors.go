// Package publisher posts statuses and media against the target
// microblog instance, with the retry ladder the instance's API expects.
package publisher

import (
	"fmt"
	"time"
)

// StatusNotFoundError maps HTTP 404: the referenced status is gone.
// Fatal for the current post.
type StatusNotFoundError struct{ StatusID string }

func (e *StatusNotFoundError) Error() string {
	return fmt.Sprintf("status %s not found", e.StatusID)
}

// EditNotAllowedError maps HTTP 403 on update. Fatal; the edit path
// degrades to delete + republish.
type EditNotAllowedError struct{ StatusID string }

func (e *EditNotAllowedError) Error() string {
	return fmt.Sprintf("editing status %s not allowed", e.StatusID)
}

// ValidationError maps HTTP 422 and local validation failures. Fatal
// for the current post, never retried.
type ValidationError struct{ Message string }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rejected by instance: %s", e.Message)
}

// RateLimitError maps HTTP 429.
type RateLimitError struct{ RetryAfter time.Duration }

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ServerError maps HTTP 5xx.
type ServerError struct{ StatusCode int }

func (e *ServerError) Error() string {
	return fmt.Sprintf("instance returned %d", e.StatusCode)
}
