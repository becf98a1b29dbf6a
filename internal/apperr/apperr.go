// Package apperr provides the error types shared by the store, the codec and
// the agreement engine.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a tag, type or file was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists indicates an id or name is already taken
	ErrAlreadyExists = errors.New("already exists")
	// ErrInternal indicates a storage or system fault
	ErrInternal = errors.New("internal error")
)

// NotFoundError represents a missing resource
type NotFoundError struct {
	Resource string // e.g. "tag", "tag type", "attribute type"
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents input that breaks a model rule
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// DuplicateError represents an id or name collision
type DuplicateError struct {
	Resource string
	ID       string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ID)
}

func (e *DuplicateError) Unwrap() error {
	return ErrAlreadyExists
}

// ParseError represents a fatal problem in an annotation or task file
type ParseError struct {
	Format  string // "XML", "spans", "task"
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// StoreError wraps every failure of a store operation. Op names the
// operation, Err is the violated invariant or the underlying storage fault.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IOError represents a failed read or write
type IOError struct {
	Operation string
	Path      string
	Err       error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewDuplicate creates a DuplicateError
func NewDuplicate(resource, id string) *DuplicateError {
	return &DuplicateError{Resource: resource, ID: id}
}

// NewParse creates a ParseError
func NewParse(format, path, message string) *ParseError {
	return &ParseError{Format: format, Path: path, Message: message}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{Operation: operation, Path: path, Err: err}
}

// Storage wraps a raw storage fault so that it reads as an internal error
// while keeping the driver error reachable through errors.As.
func Storage(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: fmt.Errorf("%w: %w", ErrInternal, err)}
}

// Integrity wraps a violated model invariant for op
func Integrity(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalid reports whether err is or wraps ErrInvalidInput
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsDuplicate reports whether err is or wraps ErrAlreadyExists
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
