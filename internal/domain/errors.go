package domain

import (
	"fmt"
)

// Error codes for different failure scenarios
const (
	ErrResourceLoad   = "RESOURCE_LOAD_ERROR"
	ErrComposition    = "COMPOSITION_ERROR"
	ErrInvalidInput   = "INVALID_INPUT"
	ErrExternalAPI    = "EXTERNAL_API_ERROR"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// ResourceLoadError reports that an image URL could not be fetched or decoded.
// It is recovered locally as a placeholder block during composition and only
// becomes a hard failure when every required image fails.
type ResourceLoadError struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Error implements the error interface
func (e *ResourceLoadError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", ErrResourceLoad, e.Reason, e.URL)
}

// Unwrap exposes the underlying cause
func (e *ResourceLoadError) Unwrap() error {
	return e.Err
}

// CompositionError reports a non-recoverable failure during report layout or
// encoding. The composition is aborted and no partial artifact is returned.
type CompositionError struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Error implements the error interface
func (e *CompositionError) Error() string {
	return fmt.Sprintf("%s: %s (stage: %s)", ErrComposition, e.Reason, e.Stage)
}

// Unwrap exposes the underlying cause
func (e *CompositionError) Unwrap() error {
	return e.Err
}

// NewResourceLoadError creates a new ResourceLoadError
func NewResourceLoadError(url, reason string, err error) *ResourceLoadError {
	return &ResourceLoadError{
		URL:    url,
		Reason: reason,
		Err:    err,
	}
}

// NewCompositionError creates a new CompositionError
func NewCompositionError(stage, reason string, err error) *CompositionError {
	return &CompositionError{
		Stage:  stage,
		Reason: reason,
		Err:    err,
	}
}
