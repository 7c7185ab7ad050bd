package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachableURL marks a start URL whose redirect chain could not be resolved.
	ErrUnreachableURL = errors.New("unreachable url")
	// ErrUnsupportedLanguage is returned when the detected language has no extraction profile.
	ErrUnsupportedLanguage = errors.New("language not supported")
	// ErrNonHTML is returned for responses without a top-level HTML document.
	ErrNonHTML = errors.New("response is not html")
	// ErrMissingInput is returned when a required url or query is absent.
	ErrMissingInput = errors.New("missing required input")
	// ErrJobNotFound is returned by job stores for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
)

// CanonicalizationError reports why a start URL could not be canonicalized.
type CanonicalizationError struct {
	URL string
	Err error
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("canonicalize %q: %v", e.URL, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *CanonicalizationError) Unwrap() []error {
	return []error{ErrUnreachableURL, e.Err}
}
