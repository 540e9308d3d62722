package core

import (
	"errors"
	"fmt"
)

// Error type names reported to API clients.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeServer         = "server_error"
)

// Validation error codes.
const (
	CodeValidation        = "validation_error"
	CodeInvalidModel      = "invalid_model"
	CodeUnsupportedFormat = "unsupported_format"
	CodeModelNotFound     = "model_not_found"
	CodeNotFound          = "not_found"
	CodeProcessingError   = "processing_error"
)

// ErrGeneration is matched by every GenerationError.
var ErrGeneration = errors.New("audio generation failed")

// ValidationError reports a request that was rejected before any audio work
// started.
type ValidationError struct {
	Code    string
	Message string
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// GenerationError reports a backend or encoder failure after generation began.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrGeneration.Error(), e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGeneration, e.Err}
}
