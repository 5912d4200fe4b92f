package ogm

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an Error so callers can decide their own retry/merge policy.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// ContractViolation is a programmer error, e.g. a key whose column names and values differ in length.
	ContractViolation
	// UnsupportedOperation is raised when an adapter meets an operation kind it can not translate.
	UnsupportedOperation
	// BackendFailure wraps connection and statement execution failures.
	BackendFailure
	// AlreadyExists is raised when an insert-if-absent found an existing record.
	AlreadyExists
	// OptimisticConflict is raised when a conditional write lost to a concurrent writer.
	OptimisticConflict
)

func (c ErrorCode) String() string {
	switch c {
	case ContractViolation:
		return "contract violation"
	case UnsupportedOperation:
		return "unsupported operation"
	case BackendFailure:
		return "backend failure"
	case AlreadyExists:
		return "already exists"
	case OptimisticConflict:
		return "optimistic conflict"
	}
	return "unknown"
}

// Error is the OGM custom error. UserData carries the offending input or, for backend
// failures, the generated statement.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData == nil {
		return fmt.Sprintf("%v: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%v: %v, user data: %v", e.Code, e.Err, e.UserData)
}

// Unwrap exposes the cause to errors.Is/As.
func (e Error) Unwrap() error {
	return e.Err
}

// ContractError returns a ContractViolation error echoing the offending input.
func ContractError(input any, format string, args ...any) error {
	return Error{
		Code:     ContractViolation,
		Err:      fmt.Errorf(format, args...),
		UserData: input,
	}
}

// UnsupportedOperationError is used by adapters on the default branch of an operation switch.
func UnsupportedOperationError(op any) error {
	return Error{
		Code:     UnsupportedOperation,
		Err:      fmt.Errorf("operation %v is not supported", op),
		UserData: op,
	}
}

// BackendError wraps a backend I/O failure with the statement (or command) that caused it.
func BackendError(statement string, cause error) error {
	return Error{
		Code:     BackendFailure,
		Err:      cause,
		UserData: statement,
	}
}

// AlreadyExistsError reports an insert-if-absent that found an existing record.
func AlreadyExistsError(statement string, input any) error {
	return Error{
		Code:     AlreadyExists,
		Err:      fmt.Errorf("record %v already exists", input),
		UserData: statement,
	}
}

// ConflictError reports a conditional write that did not apply.
func ConflictError(statement string, cause error) error {
	return Error{
		Code:     OptimisticConflict,
		Err:      cause,
		UserData: statement,
	}
}

// IsCode reports whether err is (or wraps) an ogm Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Statement returns the statement attached to a backend error, if any.
func Statement(err error) string {
	var e Error
	if errors.As(err, &e) {
		if s, ok := e.UserData.(string); ok {
			return s
		}
	}
	return ""
}
