package pipeline

import "fmt"

// The generation lifecycle reports exactly five failure classes. None of them
// are retried anywhere in this package; each is returned to the immediate
// caller as a typed value so callers can tell "bad input", "provider
// unreachable", "provider answered garbage", "store down", and "half saved"
// apart.

// ValidationError reports bad or missing input. When it is returned no
// network call has been made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the named input field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderError reports that the generative provider was unreachable,
// rejected the request, or returned an HTTP error.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (http %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// FormatError reports that the provider responded but the content failed
// shape validation. Raw carries the offending payload for diagnostics.
type FormatError struct {
	Reason string
	Raw    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed provider output: %s", e.Reason)
}

// StorageError reports that a row or blob operation failed outright.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PartialFailure reports that a blob was durably stored but its linking row
// was not. BlobURL points at the orphaned blob; callers must surface this
// distinctly from total failure so generated content is not silently lost.
type PartialFailure struct {
	BlobURL string
	Err     error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("artifact partially saved (blob at %s, row failed): %v", e.BlobURL, e.Err)
}

func (e *PartialFailure) Unwrap() error {
	return e.Err
}
