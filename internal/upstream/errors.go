package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no upstream base URL can be resolved.
	ErrNotConfigured = errors.New("upstream URL is not configured")

	// ErrUnsortedPage is returned when a page is not ascending by (update_time, id).
	ErrUnsortedPage = errors.New("upstream page is not sorted by update_time, id")

	// ErrMalformedRecord is returned when a row lacks a usable id or update_time.
	ErrMalformedRecord = errors.New("malformed upstream record")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}
