// Package errors defines the categorized error taxonomy shared by every
// fleet component, so a bot's tick can decide retry/cooldown behavior from
// the error shape alone rather than string-matching messages.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory buckets a failure so callers can decide retry/cooldown
// behavior without string-matching messages.
type ErrorCategory string

const (
	CategoryNetwork     ErrorCategory = "NETWORK"
	CategoryRateLimit   ErrorCategory = "RATE_LIMIT"
	CategoryCredentials ErrorCategory = "CREDENTIALS"
	CategoryValidation  ErrorCategory = "VALIDATION"
	CategoryOrder       ErrorCategory = "ORDER"
	CategoryPosition    ErrorCategory = "POSITION"
	CategoryPersistence ErrorCategory = "PERSISTENCE"
	CategoryFatal       ErrorCategory = "FATAL"
)

// BotError wraps an underlying error with the component/operation that
// produced it and whether a retry is sensible.
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
	At         time.Time
}

func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s.%s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s.%s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *BotError) Unwrap() error { return e.Underlying }

func (e *BotError) IsRetryable() bool { return e.Retryable }

func (e *BotError) IsFatal() bool { return e.Category == CategoryFatal }

// New builds a BotError with the current time stamped.
func New(category ErrorCategory, component, operation, message string, retryable bool) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: retryable,
		At:        time.Now(),
	}
}

// Wrap attaches component/operation context to an arbitrary error.
func Wrap(category ErrorCategory, component, operation string, err error, retryable bool) *BotError {
	if err == nil {
		return nil
	}
	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    err.Error(),
		Underlying: err,
		Retryable:  retryable,
		At:         time.Now(),
	}
}

// WithContext attaches key/value debugging context and returns the receiver
// for chaining.
func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// As is a thin re-export of errors.As for callers that only import this
// package.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// IsRetryable reports whether err (or any error it wraps) is a retryable
// BotError.
func IsRetryable(err error) bool {
	var be *BotError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// IsFatal reports whether err (or any error it wraps) is a fatal BotError.
func IsFatal(err error) bool {
	var be *BotError
	if errors.As(err, &be) {
		return be.IsFatal()
	}
	return false
}
