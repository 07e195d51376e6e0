package ddbapi

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/dynamock/store"
)

// ServiceID is the service name the SDK puts in operation errors.
const ServiceID = "DynamoDB"

// translate maps emulator errors onto the exception types the SDK returns
// for the same failure, wrapped in a smithy.OperationError like the real
// client does.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		conflict *store.ConflictError
		invalid  *store.ValidationError
		apiErr   smithy.APIError
	)
	switch {
	case errors.As(err, &conflict):
		err = &types.ConditionalCheckFailedException{Message: aws.String(conflict.Message)}
	case errors.Is(err, store.ErrTableNotFound):
		err = &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}
	case errors.As(err, &invalid):
		err = &smithy.GenericAPIError{Code: store.CodeValidation, Message: invalid.Message, Fault: smithy.FaultClient}
	case errors.As(err, &apiErr):
	default:
		// Anything else is a codec or I/O failure inside the emulator.
		err = &smithy.GenericAPIError{Code: "InternalServerError", Message: err.Error(), Fault: smithy.FaultServer}
	}
	return &smithy.OperationError{ServiceID: ServiceID, OperationName: op, Err: err}
}

// validation builds a client-side ValidationException.
func validation(op, msg string) error {
	return &smithy.OperationError{
		ServiceID:     ServiceID,
		OperationName: op,
		Err:           &smithy.GenericAPIError{Code: store.CodeValidation, Message: msg, Fault: smithy.FaultClient},
	}
}

// IsConditionalCheckFailed reports whether err is a failed condition, from
// either backend.
func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	return errorCode(err) == store.CodeConditionalCheckFailed
}

// IsValidation reports whether err is a ValidationException.
func IsValidation(err error) bool {
	return errorCode(err) == store.CodeValidation
}

// IsResourceNotFound reports whether err names a missing table.
func IsResourceNotFound(err error) bool {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return true
	}
	return errorCode(err) == store.CodeResourceNotFound
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
