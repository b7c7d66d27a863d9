package models

import "errors"

var (
	ErrEmptyQuery                = errors.New("query is empty")
	ErrQueryTooLong              = errors.New("query exceeds maximum length")
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrSynthesisFailed           = errors.New("structured query synthesis failed")
	ErrUnsafeQueryRejected       = errors.New("unsafe query rejected")
	ErrExecutionError            = errors.New("structured query execution error")
	ErrRetrievalUnavailable      = errors.New("retrieval unavailable")
	ErrSynthesisUnavailable      = errors.New("answer synthesis unavailable")
	ErrTimeout                   = errors.New("timeout")
	ErrAllPathsFailed            = errors.New("all retrieval paths failed")
)

// IsValidation reports whether err was caused by the request itself rather
// than a dependency.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyQuery) || errors.Is(err, ErrQueryTooLong)
}
