package reader

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable marks transport and parse failures talking to an
// external source. Callers match it with errors.Is.
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceError records which source and operation failed.
type SourceError struct {
	Source string
	Op     string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

func Unavailable(source, op string, err error) error {
	if err == nil {
		return nil
	}
	return &SourceError{Source: source, Op: op, Err: err}
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// APIError is returned when a source answers 2xx with an error code in the
// payload.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
}

// IsUnavailable reports whether err came from a source failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}
