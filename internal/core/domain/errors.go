// Package domain defines the core domain models for objmesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
// Codes follow the format OM-<AREA>-<NNNN>.
//
// @design DS-0104
type DomainError struct {
	Code    string // Error code (e.g., "OM-OBJ-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrNotInitialized indicates the engine is closed or a table was never created.
	ErrNotInitialized = NewDomainError("OM-STOR-5031", "store not initialized")

	// ErrNullStore indicates the backing store of an object has been closed.
	ErrNullStore = NewDomainError("OM-STOR-4042", "store unavailable")

	// ErrEngine wraps failures reported by the kv substrate.
	ErrEngine = NewDomainError("OM-STOR-5001", "storage engine error")

	// ErrSingleDevice indicates a sync was requested with no target device.
	ErrSingleDevice = NewDomainError("OM-SYNC-4001", "no device to sync with")
)

// ============================================================================
// Object Errors (OBJ)
// ============================================================================

var (
	// ErrAlreadyExists indicates the object, table or watch already exists.
	ErrAlreadyExists = NewDomainError("OM-OBJ-4090", "already exists")

	// ErrNotExist indicates the table backing a session does not exist.
	ErrNotExist = NewDomainError("OM-OBJ-4040", "not exist")

	// ErrObjectNotFound indicates no object handle is registered for a session.
	ErrObjectNotFound = NewDomainError("OM-OBJ-4041", "object not found")

	// ErrNullObject indicates the handle's object is gone or has no watch.
	ErrNullObject = NewDomainError("OM-OBJ-4043", "null object")

	// ErrNoObserver indicates no observer is registered for the table.
	ErrNoObserver = NewDomainError("OM-OBJ-4044", "no observer registered")
)

// ============================================================================
// Data Errors (DATA)
// ============================================================================

var (
	// ErrDataLen indicates a field blob shorter than its type requires.
	ErrDataLen = NewDomainError("OM-DATA-4001", "field data too short")

	// ErrTypeMismatch indicates a field was read with a type other than the stored one.
	ErrTypeMismatch = NewDomainError("OM-DATA-4002", "field type mismatch")

	// ErrFieldNotFound indicates the requested field is not present.
	ErrFieldNotFound = NewDomainError("OM-DATA-4040", "field not found")
)

// ============================================================================
// Remote Errors (RMT)
// ============================================================================

var (
	// ErrRemoteUnavailable indicates the coordination service cannot be reached.
	ErrRemoteUnavailable = NewDomainError("OM-RMT-5030", "coordination service unavailable")

	// ErrProcessing indicates the coordination service rejected the request.
	ErrProcessing = NewDomainError("OM-RMT-5000", "remote processing failed")

	// ErrTimeout indicates a bridged remote call did not complete in time.
	ErrTimeout = NewDomainError("OM-RMT-5040", "remote call timed out")

	// ErrGetFailed indicates the target device is absent from a completion result.
	ErrGetFailed = NewDomainError("OM-RMT-5041", "result missing for device")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument (empty id, empty batch).
	ErrInvalidArgument = NewDomainError("OM-ARG-1001", "invalid argument")
)
