package announce

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField marks a record without one of the required fields.
	ErrMissingField = errors.New("required parameter not found")
	// ErrInvalidPhone marks a record carrying a phone number that fails validation.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidDate marks a record whose modifiedOn/addedOn value cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")
)

// ValidationError describes why the record at Index was rejected before posting.
type ValidationError struct {
	Index  int
	Field  string
	Value  any
	Reason error
}

func (e *ValidationError) Error() string {
	switch {
	case errors.Is(e.Reason, ErrMissingField):
		return fmt.Sprintf("required parameter %s not found in data row %d", e.Field, e.Index)
	case errors.Is(e.Reason, ErrInvalidPhone):
		return fmt.Sprintf("phone number %v is not a valid phone number in data row %d", e.Value, e.Index)
	default:
		return fmt.Sprintf("%s value %v rejected in data row %d: %v", e.Field, e.Value, e.Index, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// RemoteError reports a response status >= 400 from the aggregation endpoint.
type RemoteError struct {
	Index      int
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("posting data row %d failed with status %d: %s", e.Index, e.StatusCode, e.Body)
}
