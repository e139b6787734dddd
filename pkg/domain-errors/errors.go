// Package domainerrors defines the typed error vocabulary shared by
// services, stores, and transport. Handlers translate codes to HTTP statuses
// in one place instead of matching on error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeBadRequest covers malformed submissions: missing proof, missing
	// public signals, or an unrecoverable session identifier.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound is returned for lookups of unknown records.
	CodeNotFound Code = "not_found"
	// CodeUnauthorized is returned when bearer-token validation fails.
	CodeUnauthorized Code = "unauthorized"
	// CodeVerificationFailed means the proof verifier answered and the
	// proof was invalid. Carries the verifier's details.
	CodeVerificationFailed Code = "verification_failed"
	// CodeAdapterError means the verifier call itself failed (transport,
	// decode, non-2xx). Distinct from an invalid proof.
	CodeAdapterError Code = "adapter_error"
	// CodeAttestationFailed means the on-chain write failed. Non-terminal:
	// the verified status stands and the write is retryable.
	CodeAttestationFailed Code = "attestation_failed"
	// CodeInternal is the fallback for unexpected failures.
	CodeInternal Code = "internal"
)

// DomainError pairs a code with a human-readable message and an optional
// wrapped cause.
type DomainError struct {
	Code    Code
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// New builds a DomainError with the given code and message.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Wrap builds a DomainError that keeps err as the cause for errors.Is/As.
func Wrap(code Code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the message from err without the code prefix, falling
// back to err.Error() for foreign errors.
func MessageOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// ToHTTPStatus maps a domain code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeVerificationFailed:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAdapterError, CodeAttestationFailed, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
