package fetch

import "fmt"

// HTTPStatusError indicates a non-2xx response. Server errors (5xx) and
// 429 are retried; other client errors are terminal.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// RetryExhaustedError is the terminal failure of a request whose retry
// budget ran out. It wraps the last underlying cause.
type RetryExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("download of %s failed after %d retries: %v", e.URL, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}
