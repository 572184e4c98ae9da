// Package errors defines the wallet service error taxonomy. Every failure
// surfaced to callers is classified with a stable code so the API layer can map
// it to an HTTP status and the dashboard can decide how to present it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class.
type Code string

const (
	// CodeValidation covers bad user input: non-positive amounts, malformed
	// recipient addresses. Never sent to the network.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeCredential covers malformed or provider-rejected credentials.
	CodeCredential Code = "CREDENTIAL_ERROR"
	// CodeNetwork covers unreachable providers, RPC nodes and rate services.
	CodeNetwork Code = "NETWORK_ERROR"
	// CodeChain covers on-chain failures such as reverted transactions and
	// insufficient funds.
	CodeChain Code = "CHAIN_ERROR"
	// CodeState covers operations attempted against an invalid session state,
	// e.g. sending while disconnected or while another send is pending.
	CodeState Code = "STATE_ERROR"
	// CodeTimeout covers operations that exceeded their configured deadline.
	CodeTimeout Code = "TIMEOUT_ERROR"
	// CodeNotFound covers missing resources.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInternal covers unexpected internal failures.
	CodeInternal Code = "INTERNAL_ERROR"
)

// ServiceError is the concrete error type carried across component boundaries.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value detail and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, cause error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        cause,
	}
}

// Validation creates a user-input validation error.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Credential creates a credential error (malformed or rejected key).
func Credential(message string, cause error) *ServiceError {
	return newError(CodeCredential, http.StatusUnauthorized, message, cause)
}

// Network creates a network reachability error.
func Network(message string, cause error) *ServiceError {
	return newError(CodeNetwork, http.StatusBadGateway, message, cause)
}

// Chain creates an on-chain failure error.
func Chain(message string, cause error) *ServiceError {
	return newError(CodeChain, http.StatusUnprocessableEntity, message, cause)
}

// State creates an invalid-session-state error.
func State(message string) *ServiceError {
	return newError(CodeState, http.StatusConflict, message, nil)
}

// Timeout creates a deadline-exceeded error for the named operation.
func Timeout(operation string, cause error) *ServiceError {
	return newError(CodeTimeout, http.StatusGatewayTimeout, operation+" timed out", cause)
}

// NotFound creates a missing-resource error.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// Internal creates an unexpected-failure error.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// CodeOf reports the classification of err. Unclassified errors are internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus reports the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if svcErr := GetServiceError(err); svcErr != nil && svcErr.HTTPStatus != 0 {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
