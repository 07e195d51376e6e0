package store

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/jacentio/dynamock/expr"
)

var (
	// ErrNotFound is returned when the item targeted by an update doesn't exist.
	ErrNotFound = errors.New("dynamock: item not found")

	// ErrAlreadyExists is returned by PutNew when the key is already taken.
	ErrAlreadyExists = errors.New("dynamock: item already exists")

	// ErrVersionConflict is returned when optimistic lock fails (version mismatch).
	ErrVersionConflict = errors.New("dynamock: version conflict")

	// ErrConditionFailed is returned when a condition expression evaluates to false.
	ErrConditionFailed = errors.New("dynamock: conditional check failed")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("dynamock: validation failed")

	// ErrTableNotFound is returned for unknown tables when Config.RequireTables is set.
	ErrTableNotFound = errors.New("dynamock: table not found")
)

// Error codes reported through smithy.APIError, matching the service.
const (
	CodeValidation             = "ValidationException"
	CodeConditionalCheckFailed = "ConditionalCheckFailedException"
	CodeResourceNotFound       = "ResourceNotFoundException"
)

// ValidationError rejects a request before any state changes. It matches
// ErrValidation and, when the cause was a codec failure, the underlying
// *attr.TypeError.
type ValidationError struct {
	Message string
	Err     error
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return CodeValidation + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Err }

func (e *ValidationError) ErrorCode() string             { return CodeValidation }
func (e *ValidationError) ErrorMessage() string          { return e.Message }
func (e *ValidationError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// ConflictError reports a failed conditional write. Err is one of
// ErrVersionConflict, ErrConditionFailed or ErrAlreadyExists.
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	return CodeConditionalCheckFailed + ": " + e.Message
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) ErrorCode() string             { return CodeConditionalCheckFailed }
func (e *ConflictError) ErrorMessage() string          { return e.Message }
func (e *ConflictError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var (
	_ smithy.APIError = (*ValidationError)(nil)
	_ smithy.APIError = (*ConflictError)(nil)
)

// asValidation converts expression errors into ValidationErrors and passes
// everything else through.
func asValidation(err error) error {
	if err == nil {
		return nil
	}
	var pe *expr.Error
	if errors.As(err, &pe) {
		return &ValidationError{Message: pe.Error(), Err: err}
	}
	return err
}
