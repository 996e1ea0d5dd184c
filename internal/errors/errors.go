// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderTerminal      = errors.New("order already in a terminal state")
	ErrNotModifiable      = errors.New("order is not modifiable")
	ErrPositionNotFound   = errors.New("position not found")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrExpiredInstrument  = errors.New("instrument is past expiry")
	ErrLotSize            = errors.New("quantity is not a multiple of lot size")
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrNoLeverage         = errors.New("no leverage configured for product")
	ErrNoUnderlyingFuture = errors.New("no underlying future price available")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// ValidationError represents a synchronous placement validation failure.
// No state is mutated when one is returned.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// MarginError reports a failed margin computation for an order.
type MarginError struct {
	Symbol  string
	Product string
	Reason  string
	Err     error
}

func (e *MarginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("margin error %s/%s: %s: %v", e.Symbol, e.Product, e.Reason, e.Err)
	}
	return fmt.Sprintf("margin error %s/%s: %s", e.Symbol, e.Product, e.Reason)
}

func (e *MarginError) Unwrap() error {
	return e.Err
}

// NewMarginError creates a new MarginError.
func NewMarginError(symbol, product, reason string, err error) *MarginError {
	return &MarginError{Symbol: symbol, Product: product, Reason: reason, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
