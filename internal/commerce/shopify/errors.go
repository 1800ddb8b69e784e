package shopify

import (
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ErrStaleCursor is returned when upstream rejects a pagination cursor.
var ErrStaleCursor = errors.New("stale pagination cursor")

// StatusError is a non-retryable upstream HTTP failure.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// MalformedResponseError is returned when an upstream body can't be decoded.
type MalformedResponseError struct {
	URL string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.URL, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

const maxErrorBody = 512

func newStatusError(resp *resty.Response) *StatusError {
	body := resp.String()
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       body,
	}
}
