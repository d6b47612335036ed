// Package errors provides structured error handling for the export module.
// It defines error types, sentinel errors, and utility functions for
// consistent error handling across the export pipeline.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies export pipeline failures
type ErrorType string

const (
	// ErrorTypeAnalysis indicates a malformed snapshot rejected before any
	// filesystem work began
	ErrorTypeAnalysis ErrorType = "analysis"
	// ErrorTypeFrameWrite indicates a frame image could not be persisted
	ErrorTypeFrameWrite ErrorType = "frame_write"
	// ErrorTypeEncodeInvocation indicates the external encoder was missing,
	// crashed, or exited nonzero
	ErrorTypeEncodeInvocation ErrorType = "encode_invocation"
	// ErrorTypeConfiguration indicates an encoding job with missing or
	// invalid parameters, rejected before the external process is spawned
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeSession indicates session lifecycle errors
	ErrorTypeSession ErrorType = "session"
	// ErrorTypeInternal indicates internal pipeline errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrSessionNotFound indicates a session ID doesn't exist
	ErrSessionNotFound = errors.New("export session not found")

	// ErrSessionAlreadyExists indicates duplicate session creation
	ErrSessionAlreadyExists = errors.New("export session already exists")

	// ErrInvalidTransition indicates an illegal session state change
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrMissingDuration indicates a render job dispatched without a
	// positive total duration
	ErrMissingDuration = errors.New("encoding job has no positive total duration")

	// ErrNoFrames indicates render mode was dispatched with an empty
	// frame directory
	ErrNoFrames = errors.New("no rendered frames present in frame directory")

	// ErrNoSources indicates copy mode was dispatched without source files
	ErrNoSources = errors.New("no source files for stream copy")

	// ErrEncoderUnavailable indicates the ffmpeg binary could not be found
	// or executed
	ErrEncoderUnavailable = errors.New("external encoder unavailable")

	// ErrCancelled indicates an export was cancelled by the caller
	ErrCancelled = errors.New("export cancelled")
)

// ExportError provides structured error information with context
type ExportError struct {
	Type      ErrorType
	Op        string
	SessionID string
	Message   string
	Err       error
	Context   map[string]interface{}
}

// Error implements the error interface
func (e *ExportError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Type, e.Op)
	if e.SessionID != "" {
		base += fmt.Sprintf(" (session %s)", e.SessionID)
	}
	if e.Message != "" {
		base += ": " + e.Message
	}
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

// Unwrap supports errors.Is/errors.As chains
func (e *ExportError) Unwrap() error {
	return e.Err
}

// New creates a structured export error
func New(errType ErrorType, op string, err error) *ExportError {
	return &ExportError{
		Type: errType,
		Op:   op,
		Err:  err,
	}
}

// Newf creates a structured export error with a formatted message
func Newf(errType ErrorType, op string, format string, args ...interface{}) *ExportError {
	return &ExportError{
		Type:    errType,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithSession attaches a session ID for diagnostics
func (e *ExportError) WithSession(id string) *ExportError {
	e.SessionID = id
	return e
}

// WithContext attaches a diagnostic key/value pair
func (e *ExportError) WithContext(key string, value interface{}) *ExportError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsType reports whether err is an ExportError of the given type
func IsType(err error, t ErrorType) bool {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Type == t
	}
	return false
}
