package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the BFA.

// ValidationReason identifies which local rule rejected a request.
type ValidationReason string

const (
	InvalidAmount       ValidationReason = "InvalidAmount"
	UndefinedKeyType    ValidationReason = "UndefinedKeyType"
	InsufficientBalance ValidationReason = "InsufficientBalance"
	MissingField        ValidationReason = "MissingField"
)

// ErrValidation indicates a request was rejected locally, before any id was
// minted or any network call was made.
type ErrValidation struct {
	Reason  ValidationReason
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error [%s] on '%s': %s", e.Reason, e.Field, e.Message)
}

// ErrSubmission indicates the gateway rejected or could not be reached
// during the initial submit. Polling never starts after one.
type ErrSubmission struct {
	Kind Kind
	// Delivered is false when the request never reached the gateway
	// (dial/connection failures, open circuit). Only then may the same
	// external id be reused by the next attempt.
	Delivered bool
	Err       error
}

func (e *ErrSubmission) Error() string {
	return fmt.Sprintf("submission error [%s]: %v", e.Kind, e.Err)
}

func (e *ErrSubmission) Unwrap() error {
	return e.Err
}

// ErrPollingTransport is a transient failure of a single status check.
// It is logged and retried on the next tick, never surfaced as terminal.
type ErrPollingTransport struct {
	RemoteID string
	Err      error
}

func (e *ErrPollingTransport) Error() string {
	return fmt.Sprintf("status check failed for %s: %v", e.RemoteID, e.Err)
}

func (e *ErrPollingTransport) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

var (
	// ErrSubmissionInFlight is returned when a slot already has a
	// submission or polling session running.
	ErrSubmissionInFlight = errors.New("a transaction is already in progress for this slot")

	// ErrPollingCancelled ends a lifecycle whose polling session was
	// cancelled before a terminal status arrived.
	ErrPollingCancelled = errors.New("polling cancelled")

	// ErrPollingExpired ends a lifecycle whose polling session exceeded
	// its configured maximum duration.
	ErrPollingExpired = errors.New("polling exceeded maximum duration")

	// ErrUnknownStatus is returned when the gateway reports a status
	// outside the known vocabulary.
	ErrUnknownStatus = errors.New("unknown transaction status")
)
