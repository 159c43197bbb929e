// Package errs defines the coded error taxonomy shared by the loyalty engine and its adapters.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error class. Handlers map codes to HTTP statuses.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeConflict            Code = "STORE_CONFLICT"
	CodeGenerationFailure   Code = "CODE_GENERATION_FAILURE"
	CodePartialFailure      Code = "PARTIAL_FAILURE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeAlreadyRedeemed     Code = "ALREADY_REDEEMED"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeInternal            Code = "INTERNAL"
)

// DomainError is an immutable coded error with optional context for logs.
type DomainError struct {
	Code    Code
	Message string
	Context map[string]interface{}
	cause   error
}

// Error implements error.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	return msg
}

// Is matches on code so that errors.Is(err, ErrNotFound) works for any NotFound instance.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Unwrap returns the underlying cause, if any.
func (e *DomainError) Unwrap() error {
	return e.cause
}

// WithContext returns a copy carrying the given key/value pairs.
func (e *DomainError) WithContext(keyValues ...interface{}) *DomainError {
	if len(keyValues)%2 != 0 {
		panic("WithContext requires key-value pairs")
	}
	ctx := make(map[string]interface{}, len(e.Context)+len(keyValues)/2)
	for k, v := range e.Context {
		ctx[k] = v
	}
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			panic(fmt.Sprintf("context key must be string, got %T", keyValues[i]))
		}
		ctx[key] = keyValues[i+1]
	}
	return &DomainError{Code: e.Code, Message: e.Message, Context: ctx, cause: e.cause}
}

// Wrap returns a copy with cause attached.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Context: e.Context, cause: cause}
}

// Sentinels. Compare with errors.Is.
var (
	ErrValidation = &DomainError{
		Code:    CodeValidation,
		Message: "invalid input",
	}
	ErrStoreUnavailable = &DomainError{
		Code:    CodeStoreUnavailable,
		Message: "record store unavailable",
	}
	ErrConflict = &DomainError{
		Code:    CodeConflict,
		Message: "record store version conflict",
	}
	ErrCodeGeneration = &DomainError{
		Code:    CodeGenerationFailure,
		Message: "promo engine failed to create code",
	}
	ErrPartialFailure = &DomainError{
		Code:    CodePartialFailure,
		Message: "reward issuance stopped early",
	}
	ErrNotFound = &DomainError{
		Code:    CodeNotFound,
		Message: "reward code not found",
	}
	ErrAlreadyRedeemed = &DomainError{
		Code:    CodeAlreadyRedeemed,
		Message: "reward code already redeemed",
	}
	ErrInsufficientBalance = &DomainError{
		Code:    CodeInsufficientBalance,
		Message: "balance below spend amount",
	}
)

// Validation returns a ValidationError describing the offending field.
func Validation(field, reason string) error {
	return ErrValidation.WithContext("field", field, "reason", reason)
}

// Unavailable classifies err as a StoreUnavailable error. Nil stays nil; coded errors pass through.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return ErrStoreUnavailable.WithContext("op", op).Wrap(err)
}

// CodeOf returns the taxonomy code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether a caller may safely retry the operation that produced err.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreUnavailable, CodeGenerationFailure, CodePartialFailure, CodeConflict, CodeInternal:
		return true
	}
	return false
}
