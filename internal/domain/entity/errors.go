package entity

import (
	"errors"
	"fmt"
)

var (
	ErrRiskRejected           = errors.New("risk rejected")
	ErrValidationFailed       = errors.New("validation failed")
	ErrExchangeRejected       = errors.New("exchange rejected")
	ErrTransport              = errors.New("transport error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrTrackingExhausted      = errors.New("tracking exhausted")
	ErrOrderNotFound          = errors.New("order not found")
	ErrPositionNotFound       = errors.New("position not found")
)

// RiskRejectedError is returned when a pre-trade check fails. No order exists.
type RiskRejectedError struct {
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return fmt.Sprintf("risk check failed: %s", e.Reason)
}

func (e *RiskRejectedError) Unwrap() error { return ErrRiskRejected }

// ValidationError is returned for malformed or out of policy order parameters
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ExchangeError is returned when the exchange answers with a non-zero status code
type ExchangeError struct {
	OrderID string
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("order rejected: %s - %s", e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error { return ErrExchangeRejected }

// TransportError wraps a network or timeout failure talking to the exchange
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport as well as the wrapped cause
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// TransitionError is returned when an order status change is not allowed
type TransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }
