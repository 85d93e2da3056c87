package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the vision pipeline worker
 *
 * Per-item failures carry the object key and sequence number so the
 * worker can log them at the item boundary and keep going. Only
 * STORAGE_UNAVAILABLE (producer) and QUEUE_UNAVAILABLE abort a worker.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Blob store errors
	ErrorStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorObjectTooLarge     ErrorCode = "OBJECT_TOO_LARGE"

	// Detection API errors
	ErrorDetectionService ErrorCode = "DETECTION_SERVICE_ERROR"

	// Queue errors
	ErrorMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	ErrorQueueUnavailable ErrorCode = "QUEUE_UNAVAILABLE"

	// Output errors
	ErrorSinkFailed ErrorCode = "SINK_FAILED"

	ErrorConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	Op        string
	Key       string
	Sequence  int
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithSequence attaches the work item sequence number to the error
func (e *PipelineError) WithSequence(seq int) *PipelineError {
	e.Sequence = seq
	return e
}

// Factory functions for common errors

func NewStorageUnavailableError(op, key string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorStorageUnavailable,
		Message:   fmt.Sprintf("Blob store unavailable during %s", op),
		Op:        op,
		Key:       key,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewNotFoundError(key string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorNotFound,
		Message:   fmt.Sprintf("Object not found: %s", key),
		Op:        "get",
		Key:       key,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewObjectTooLargeError(key string, limit int64) *PipelineError {
	return &PipelineError{
		Code:      ErrorObjectTooLarge,
		Message:   fmt.Sprintf("Object %s exceeds %d bytes", key, limit),
		Op:        "get",
		Key:       key,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"max_object_size": limit,
		},
	}
}

func NewDetectionServiceError(op, key string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDetectionService,
		Message:   fmt.Sprintf("Detection call %s failed", op),
		Op:        op,
		Key:       key,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewMalformedMessageError(body string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorMalformedMessage,
		Message:   "Malformed work item",
		Op:        "decode",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"body": body,
		},
		Cause: cause,
	}
}

func NewQueueUnavailableError(op string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorQueueUnavailable,
		Message:   fmt.Sprintf("Queue unavailable during %s", op),
		Op:        op,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewSinkFailedError(sink, key string, seq int, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorSinkFailed,
		Message:   fmt.Sprintf("Failed to append record to %s sink", sink),
		Op:        "append",
		Key:       key,
		Sequence:  seq,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"sink": sink,
		},
		Cause: cause,
	}
}

func NewConfigInvalidError(field, reason string) *PipelineError {
	return &PipelineError{
		Code:      ErrorConfigInvalid,
		Message:   fmt.Sprintf("%s %s", field, reason),
		Op:        "config",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// ToMap converts error to map for structured logs and result rows
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.Op != "" {
		result["op"] = e.Op
	}
	if e.Key != "" {
		result["key"] = e.Key
	}
	if e.Sequence != 0 {
		result["sequence"] = e.Sequence
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// CodeOf returns the code of the first PipelineError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New forwards to the standard library.
func New(text string) error { return stderrors.New(text) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
