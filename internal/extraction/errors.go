package extraction

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes callers branch on. Drivers treat
// ErrUnauthorized as fatal for the whole run; everything else fails only
// the record it occurred on.
var (
	// ErrUnauthorized indicates the extraction service rejected our
	// credentials. Retrying other documents would fail the same way, so
	// drivers halt when they see it.
	ErrUnauthorized = errors.New("extraction service rejected credentials")

	// ErrFileMissing indicates the local document disappeared before it
	// could be uploaded.
	ErrFileMissing = errors.New("local document file missing")

	// ErrTimeout indicates the request ran out of time on our side. The
	// document definitively did not complete.
	ErrTimeout = errors.New("extraction request timed out")

	// ErrAmbiguousTimeout indicates the service answered 504 Gateway
	// Timeout. Processing may still be running server-side, so the outcome
	// is unknown; records failed with it need operator review before a
	// blind retry.
	ErrAmbiguousTimeout = errors.New("extraction service gateway timeout, outcome unknown")
)

// ServerError reports a non-retryable HTTP failure from the extraction
// service.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("extraction service error %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("extraction service error %d", e.StatusCode)
}

// IsFatal reports whether err should halt the driver rather than fail a
// single record.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsAmbiguous reports whether err leaves the server-side outcome unknown.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrAmbiguousTimeout)
}
