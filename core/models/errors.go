package models

import "fmt"

// ErrorKind classifies job failures for the status record and the
// error taxonomy exposed to polling consumers.
type ErrorKind string

const (
	ErrSourceFetch      ErrorKind = "SourceFetchError"
	ErrScriptExecution  ErrorKind = "ScriptExecutionError"  // script raised
	ErrScriptIncomplete ErrorKind = "ScriptIncompleteError" // returned without success marker
	ErrExecutionTimeout ErrorKind = "ExecutionTimeoutError"
	ErrInvalidGeometry  ErrorKind = "InvalidGeometryError"
	ErrDecimation       ErrorKind = "DecimationFailure" // non-fatal, falls back to coarser tier
	ErrUpload           ErrorKind = "UploadError"
	ErrProvisioning     ErrorKind = "ProvisioningError"
	ErrNotification     ErrorKind = "NotificationFailure" // non-fatal, logged only
)

// PipelineError is a classified job error. Fatal kinds terminate the
// job; non-fatal kinds (DecimationFailure, NotificationFailure) are
// recorded as warnings and never fail the job on their own.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewPipelineError creates a classified error.
func NewPipelineError(kind ErrorKind, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapPipelineError classifies an underlying error.
func WrapPipelineError(kind ErrorKind, err error, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err, walking the wrap chain.
// Unclassified errors return an empty kind so callers can pick a default.
func KindOf(err error) ErrorKind {
	for err != nil {
		if pe, ok := err.(*PipelineError); ok {
			return pe.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}
