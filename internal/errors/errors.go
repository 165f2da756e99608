// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientCash = errors.New("insufficient cash for minimum position")
	ErrEmptyProposal    = errors.New("proposal contains no trades")
	ErrCycleAborted     = errors.New("execution cycle aborted")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrMissingPrice     = errors.New("missing reference price")
	ErrDatabaseError    = errors.New("database error")
)

// ValidationError represents malformed input detected before any stage runs.
// It is always fatal for the cycle.
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

// InvalidSignalError reports a signal whose strength or confidence is out of
// bounds.
type InvalidSignalError struct {
	Symbol string
	Field  string
	Value  float64
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("invalid signal [%s]: %s out of bounds: %f", e.Symbol, e.Field, e.Value)
}

// NewInvalidSignalError creates a new InvalidSignalError.
func NewInvalidSignalError(symbol, field string, value float64) *InvalidSignalError {
	return &InvalidSignalError{Symbol: symbol, Field: field, Value: value}
}

// StageError wraps a failure with the identity of the pipeline stage that
// produced it.
type StageError struct {
	Stage       string
	Recoverable bool
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage error [%s]: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(stage string, recoverable bool, err error) *StageError {
	return &StageError{Stage: stage, Recoverable: recoverable, Err: err}
}

// RiskNotConvergedError reports that the risk feedback loop exhausted its
// iteration budget. It carries the best-effort proposal and the final metrics
// so the caller can decide whether to proceed.
type RiskNotConvergedError struct {
	Iterations    int
	PortfolioRisk float64
	ValueAtRisk   float64
	Breaches      []string
}

func (e *RiskNotConvergedError) Error() string {
	return fmt.Sprintf("risk loop did not converge after %d iterations (portfolio risk %.4f, VaR %.4f, breaches: %v)",
		e.Iterations, e.PortfolioRisk, e.ValueAtRisk, e.Breaches)
}

// RiskLimitError represents a single risk limit breach.
type RiskLimitError struct {
	Rule    string
	Current float64
	Limit   float64
}

func (e *RiskLimitError) Error() string {
	return fmt.Sprintf("risk violation [%s]: current %.4f exceeds limit %.4f", e.Rule, e.Current, e.Limit)
}

// NewRiskLimitError creates a new RiskLimitError.
func NewRiskLimitError(rule string, current, limit float64) *RiskLimitError {
	return &RiskLimitError{Rule: rule, Current: current, Limit: limit}
}

// IsRecoverable reports whether err may be substituted with an empty stage
// result instead of aborting the cycle.
func IsRecoverable(err error) bool {
	if errors.Is(err, ErrInsufficientCash) || errors.Is(err, ErrEmptyProposal) {
		return true
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Recoverable
	}
	return false
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

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
