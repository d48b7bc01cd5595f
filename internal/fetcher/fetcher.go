package fetcher

import (
	"context"
	"fmt"
)

// Fetcher defines the interface for retrieving remote payloads.
type Fetcher interface {
	// Get fetches the URL and returns the full response body.
	Get(ctx context.Context, url string) ([]byte, error)
}

// NetworkError reports a failed request or a non-success HTTP status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetcher: unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetcher: get %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
