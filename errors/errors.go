// Package errors provides the error taxonomy of the variable network engine.
// It classifies errors into configuration failures, transient runtime faults and the
// test-only stall condition, and offers helpers for consistent wrapping.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360/varnet/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried (backend faults)
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or usage
	ErrorInvalid
	// ErrorFatal represents configuration errors that abort startup
	ErrorFatal
	// ErrorStall represents the testable-mode stall condition. It is never retried and
	// never reported as any other class.
	ErrorStall
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	case ErrorStall:
		return "stall"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("application already started")
	ErrNotStarted     = errors.New("application not started")
	ErrAlreadyStopped = errors.New("already stopped")
	ErrShuttingDown   = errors.New("shutting down")
	ErrNotTestable    = errors.New("testable mode is not enabled")

	// Network legality errors
	ErrIllegalNetwork   = errors.New("illegal variable network")
	ErrDuplicateFeeder  = errors.New("network already has a feeder")
	ErrNoFeeder         = errors.New("network has no feeder")
	ErrNoConsumers      = errors.New("network has no consumers")
	ErrTypeMismatch     = errors.New("value type mismatch")
	ErrUnitMismatch     = errors.New("engineering unit mismatch")
	ErrDuplicateTrigger = errors.New("network already has a trigger")
	ErrMissingTrigger   = errors.New("poll-type feeder requires a trigger")

	// Hierarchy errors
	ErrMalformedPath = errors.New("malformed hierarchy path")
	ErrDuplicateName = errors.New("duplicate name")
	ErrUnknownOwner  = errors.New("unknown owner")

	// Backend errors
	ErrBackendFault  = errors.New("backend fault")
	ErrBackendClosed = errors.New("backend not opened")

	// Directory errors
	ErrUnknownVariable = errors.New("unknown process variable")
	ErrNotWritable     = errors.New("process variable is not writable")
	ErrNotReadable     = errors.New("process variable is not readable")
	ErrNoValue         = errors.New("no value pending")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// stallSignal is implemented by the testable-mode stall error. It lets this package
// recognise the stall condition without importing the scheduler.
type stallSignal interface {
	error
	Stalled() bool
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsStall reports whether err carries the testable-mode stall condition.
func IsStall(err error) bool {
	if err == nil {
		return false
	}
	var s stallSignal
	return errors.As(err, &s) && s.Stalled()
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil || IsStall(err) {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrBackendFault) ||
		errors.Is(err, ErrBackendClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal checks if an error is fatal and should abort startup
func IsFatal(err error) bool {
	if err == nil || IsStall(err) {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return IsConfiguration(err)
}

// IsInvalid checks if an error is due to invalid usage
func IsInvalid(err error) bool {
	if err == nil || IsStall(err) {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrUnknownVariable) ||
		errors.Is(err, ErrNotWritable) ||
		errors.Is(err, ErrNotReadable)
}

// IsConfiguration reports whether err stems from an illegal application layout.
func IsConfiguration(err error) bool {
	for _, target := range []error{
		ErrIllegalNetwork, ErrDuplicateFeeder, ErrNoFeeder, ErrNoConsumers,
		ErrTypeMismatch, ErrUnitMismatch, ErrDuplicateTrigger, ErrMissingTrigger,
		ErrMalformedPath, ErrDuplicateName, ErrUnknownOwner, ErrInvalidConfig, ErrMissingConfig,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsStall(err) {
		return ErrorStall
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Fatalf builds a fatal configuration error around a sentinel with a formatted detail.
func Fatalf(sentinel error, component, method, format string, args ...any) error {
	detail := fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
	return WrapFatal(detail, component, method, "validation")
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the default backend recovery retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config.
// Configuration errors and stalls are never retried.
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// ToRetryConfig converts to the retry package Config.
// MaxRetries counts additional attempts, retry.Config counts total attempts.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
