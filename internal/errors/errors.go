// Package errors provides the error taxonomy for the hedging core.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrStalePrice          = errors.New("stale price")
	ErrUnsupportedStrategy = errors.New("unsupported strategy")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrNotApplicable       = errors.New("strategy not applicable")
	ErrDuplicateInstrument = errors.New("duplicate instrument")
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionLimit       = errors.New("position limit reached")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrStoreUnavailable    = errors.New("threshold store unavailable")
	ErrTimeout             = errors.New("operation timed out")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
)

// ValidationError represents a rejected input value.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// LookupError reports a missing price, threshold or volatility. Kind
// names what was looked up and Key identifies it.
type LookupError struct {
	Kind   string
	Key    string
	Detail string
	Err    error
}

func (e *LookupError) Error() string {
	msg := e.Kind + " " + e.Key + ": " + e.Detail
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// NewLookupError creates a LookupError wrapping cause.
func NewLookupError(kind, key, detail string, cause error) *LookupError {
	return &LookupError{Kind: kind, Key: key, Detail: detail, Err: cause}
}

// StrategyError represents a hedge that could not be computed.
type StrategyError struct {
	Strategy string
	Reason   string
	Err      error
}

func (e *StrategyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strategy error [%s]: %s: %v", e.Strategy, e.Reason, e.Err)
	}
	return fmt.Sprintf("strategy error [%s]: %s", e.Strategy, e.Reason)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// NewStrategyError creates a new StrategyError.
func NewStrategyError(strategy, reason string, err error) *StrategyError {
	return &StrategyError{
		Strategy: strategy,
		Reason:   reason,
		Err:      err,
	}
}

// StalePriceWarning is surfaced when a position could not be marked to
// market. It degrades that position's contribution and never aborts an
// aggregation.
type StalePriceWarning struct {
	AccountID string
	Symbol    string
	Err       error
}

func (w *StalePriceWarning) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("stale price [%s] %s: %v", w.AccountID, w.Symbol, w.Err)
	}
	return fmt.Sprintf("stale price [%s] %s", w.AccountID, w.Symbol)
}

func (w *StalePriceWarning) Unwrap() []error {
	if w.Err == nil {
		return []error{ErrStalePrice}
	}
	return []error{ErrStalePrice, w.Err}
}

// NewStalePriceWarning creates a new StalePriceWarning.
func NewStalePriceWarning(accountID, symbol string, err error) *StalePriceWarning {
	return &StalePriceWarning{
		AccountID: accountID,
		Symbol:    symbol,
		Err:       err,
	}
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

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
