package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorInsufficientBalance is returned by the contract balance ledger when a
// reservation asks for more than the remaining balance. The whole operation
// that triggered the reservation must be rolled back.
var ErrorInsufficientBalance = errors.New("insufficient contract balance")

// ErrorInvalidState is returned when an operation is applied to an entity
// whose current status does not allow it (e.g. confirming a receipt twice).
var ErrorInvalidState = errors.New("invalid state for this operation")

// BusinessError carries a validation message that is safe to return to API
// clients. Anything else that reaches the HTTP layer is treated as an internal
// failure and only logged.
type BusinessError struct {
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

func NewBusinessError(message string) *BusinessError {
	return &BusinessError{Message: message}
}

// FieldError reports malformed input together with the offending field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewFieldError(field string, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
