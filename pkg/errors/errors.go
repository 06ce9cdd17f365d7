package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	msg := e.Message
	if ctx := e.contextString(); ctx != "" {
		msg = msg + " (" + ctx + ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *DomainError) contextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}
	return strings.Join(parts, ", ")
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// TypeOf returns the type of the outermost DomainError in the chain, or "" if there is none.
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == t
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool   { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool   { return isType(err, ErrorTypeConflict) }
func IsProcessError(err error) bool    { return isType(err, ErrorTypeProcess) }
func IsTimeoutError(err error) bool    { return isType(err, ErrorTypeTimeout) }
func IsPermissionError(err error) bool { return isType(err, ErrorTypePermission) }
func IsIOError(err error) bool         { return isType(err, ErrorTypeIO) }
func IsNetworkError(err error) bool    { return isType(err, ErrorTypeNetwork) }
func IsInternalError(err error) bool   { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool  { return isType(err, ErrorTypeCancelled) }

// ErrorCollection aggregates errors from bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors occurred: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
