// Package errors provides structured error handling for voxelflow.
//
// Every data-model and engine failure is an *Error carrying a category
// (ErrorType) and, where one applies, a stable integer Code. Filters turn these
// into the negative error codes the pipeline reports.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal engine errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeMissingPrerequisite represents an array a filter needs but cannot find
	ErrorTypeMissingPrerequisite ErrorType = "missing_prerequisite"
	// ErrorTypeTypeMismatch represents element type, tuple or component mismatches
	ErrorTypeTypeMismatch ErrorType = "type_mismatch"
	// ErrorTypeMissingDataContainer represents a lookup of an absent data container
	ErrorTypeMissingDataContainer ErrorType = "missing_data_container"
	// ErrorTypeMissingAttributeMatrix represents a lookup of an absent attribute matrix
	ErrorTypeMissingAttributeMatrix ErrorType = "missing_attribute_matrix"
	// ErrorTypeInvalidParameter represents a parameter value a filter rejects
	ErrorTypeInvalidParameter ErrorType = "invalid_parameter"
	// ErrorTypeComputation represents failures raised while a filter computes
	ErrorTypeComputation ErrorType = "computation"
	// ErrorTypeCancelled represents cooperative cancellation
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeIndex represents out of range tuple or component access
	ErrorTypeIndex ErrorType = "index"
	// ErrorTypeAllocation represents an allocation that was refused or impossible
	ErrorTypeAllocation ErrorType = "allocation"
	// ErrorTypeNotFound represents a named object that does not exist
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeAlreadyExists represents a name collision
	ErrorTypeAlreadyExists ErrorType = "already_exists"
	// ErrorTypeInvalidPath represents a malformed DataArrayPath
	ErrorTypeInvalidPath ErrorType = "invalid_path"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
)

// Error codes shared by the data model and the built-in filters. Negative
// values are failures, zero is success and CodeCancelled is the only positive
// terminal code.
const (
	CodeOK        = 0
	CodeCancelled = 1

	CodeMissingPrerequisiteArray = -300
	CodeTypeMismatch             = -501
	CodeTupleCountMismatch       = -502
	CodeComponentMismatch        = -503
	CodeMissingDataContainer     = -999
	CodeInvalidArrayName         = -10002
	CodeArrayCreateFailed        = -10003
	CodeEmptyPath                = -80000
	CodeInvalidPath              = -80001
	CodePathMissingArray         = -80002
	CodePathMissingMatrix        = -80003
	CodeTupleValidation          = -10200
	CodeMissingAttributeMatrix   = -307020
	CodeUnknownFilter            = -66066
	CodeMissingFilter            = -66067
	CodeComputationFailed        = -70000
	CodeInvalidParameter         = -11000
	CodeAllocationFailed         = -12000
	CodeFileFailed               = -13000
	CodeInternal                 = -99999
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Code    int
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCode overrides the error code
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// New creates a new error with the given type and message. The code defaults
// to the one associated with the type.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Code:    DefaultCode(errType),
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Code:    DefaultCode(errType),
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. The code and stack of
// a wrapped *Error are kept.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Code:    existing.Code,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Code:    DefaultCode(errType),
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// CodeOf returns the code carried by err. Plain errors map to CodeInternal and
// a nil error to CodeOK.
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return CodeInternal
}

// DefaultCode maps an error type to its code.
func DefaultCode(t ErrorType) int {
	switch t {
	case ErrorTypeMissingPrerequisite:
		return CodeMissingPrerequisiteArray
	case ErrorTypeTypeMismatch:
		return CodeTypeMismatch
	case ErrorTypeMissingDataContainer:
		return CodeMissingDataContainer
	case ErrorTypeMissingAttributeMatrix:
		return CodeMissingAttributeMatrix
	case ErrorTypeInvalidParameter:
		return CodeInvalidParameter
	case ErrorTypeComputation:
		return CodeComputationFailed
	case ErrorTypeCancelled:
		return CodeCancelled
	case ErrorTypeAllocation:
		return CodeAllocationFailed
	case ErrorTypeAlreadyExists:
		return CodeInvalidArrayName
	case ErrorTypeInvalidPath:
		return CodeInvalidPath
	case ErrorTypeFile:
		return CodeFileFailed
	default:
		return CodeInternal
	}
}

// Is, As and Join re-export the standard helpers so callers need one import.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, 8)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
