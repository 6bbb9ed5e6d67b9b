package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrForbidden is returned when the principal may not act on a resource
	ErrForbidden = errors.New("forbidden")
	// ErrCheckoutInProgress is returned while a checkout with the same idempotency key is running
	ErrCheckoutInProgress = errors.New("checkout with this idempotency key is already in progress")
)

// ValidationError reports malformed or incomplete input, field by field
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, problem string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: problem}}
}

// Add records a problem for a field
func (e *ValidationError) Add(field, problem string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = problem
}

// HasErrors reports whether any field problem was recorded
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// InsufficientStockError names the item that cannot cover the requested quantity
type InsufficientStockError struct {
	ItemID    string
	Name      string
	Requested int
	Available int
	Unknown   bool
}

func (e *InsufficientStockError) Error() string {
	label := e.ItemID
	if e.Name != "" {
		label = fmt.Sprintf("%s (%s)", e.Name, e.ItemID)
	}
	if e.Unknown {
		return fmt.Sprintf("item %s does not exist in stock", label)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", label, e.Requested, e.Available)
}

// NotFoundError means the resource is absent
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvalidIdentifierError means the identifier itself is malformed
type InvalidIdentifierError struct {
	Resource string
	ID       string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s identifier: %q", e.Resource, e.ID)
}

// InvalidTransitionError means a status change violates the order state machine
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// DuplicateOrderCodeError means the order code already exists in the store
type DuplicateOrderCodeError struct {
	Code string
}

func (e *DuplicateOrderCodeError) Error() string {
	return fmt.Sprintf("order code already exists: %s", e.Code)
}

// SignatureMismatchError means a payment callback failed signature verification
type SignatureMismatchError struct {
	Reason string
}

func (e *SignatureMismatchError) Error() string {
	return "payment callback signature mismatch: " + e.Reason
}

// UpstreamTimeoutError means the payment provider did not answer in time
type UpstreamTimeoutError struct {
	Op  string
	Err error
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("payment provider timed out during %s: %v", e.Op, e.Err)
}

func (e *UpstreamTimeoutError) Unwrap() error { return e.Err }

// UpstreamUnavailableError means the payment provider could not be reached or
// answered with something unusable
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("payment provider unavailable during %s: %v", e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// ProviderRejectedError means the payment provider affirmatively refused the request
type ProviderRejectedError struct {
	ResultCode int
	Message    string
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("payment provider rejected the request: code %d: %s", e.ResultCode, e.Message)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
