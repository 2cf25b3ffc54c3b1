package httpclient

import "fmt"

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	URL        string
	Status     string
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, url, status string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Status:     status,
	}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s from %s", e.Status, e.URL)
}

// IsRetryable reports whether the error is worth retrying. Server-side
// failures and throttling are retryable; client errors are not.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
