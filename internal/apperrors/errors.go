// Package apperrors holds the failure taxonomy shared by the services, the
// authorization resolver and the HTTP layer. Callers classify with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation covers malformed or missing input, rejected before any I/O.
	ErrValidation = errors.New("validation failed")
	// ErrImageRequired is a validation failure: the profile image is mandatory.
	ErrImageRequired = fmt.Errorf("%w: profile image is required", ErrValidation)
	// ErrEmailAlreadyExists is the conflict outcome of registration.
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")

	// ErrStorage means an artifact write or delete failed.
	ErrStorage = errors.New("storage failure")
	// ErrPersistence means a relational transaction failed for a reason other
	// than a known constraint.
	ErrPersistence = errors.New("persistence failure")
	// ErrInconsistentState means a compensating cleanup failed and the stores
	// disagree until a reconciliation pass runs.
	ErrInconsistentState = errors.New("inconsistent state")

	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("expired credential")
)

// ValidationError carries per-field messages. It matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Wrap tags cause with a sentinel while keeping both in the chain.
func Wrap(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
