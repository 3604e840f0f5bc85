package cloudfn

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorCategory classifies a failure by what the caller can do about it.
type ErrorCategory string

const (
	ErrCategoryAuth       ErrorCategory = "auth"
	ErrCategoryPermission ErrorCategory = "permission"
	ErrCategoryNetwork    ErrorCategory = "network"
	ErrCategoryValidation ErrorCategory = "validation"
	ErrCategoryNotFound   ErrorCategory = "not_found"
	// ErrCategoryConflict is a resource changed or busy underneath the request.
	ErrCategoryConflict  ErrorCategory = "conflict"
	ErrCategoryRateLimit ErrorCategory = "rate_limit"
	ErrCategoryInternal  ErrorCategory = "internal"
	ErrCategoryTimeout   ErrorCategory = "timeout"
	// ErrCategoryUnavailable is a feature or dependency that is switched off.
	ErrCategoryUnavailable ErrorCategory = "unavailable"
)

// categoryTraits holds the HTTP status a category maps to and whether
// errors of that category are transient by default.
var categoryTraits = map[ErrorCategory]struct {
	status    int
	transient bool
}{
	ErrCategoryAuth:        {http.StatusUnauthorized, false},
	ErrCategoryPermission:  {http.StatusForbidden, false},
	ErrCategoryNetwork:     {http.StatusBadGateway, true},
	ErrCategoryValidation:  {http.StatusBadRequest, false},
	ErrCategoryNotFound:    {http.StatusNotFound, false},
	ErrCategoryConflict:    {http.StatusConflict, true},
	ErrCategoryRateLimit:   {http.StatusTooManyRequests, true},
	ErrCategoryInternal:    {http.StatusInternalServerError, false},
	ErrCategoryTimeout:     {http.StatusGatewayTimeout, true},
	ErrCategoryUnavailable: {http.StatusServiceUnavailable, false},
}

// FunctionError is the error type every function and provider returns.
// Two FunctionErrors match under errors.Is when their categories are equal.
type FunctionError struct {
	Category  ErrorCategory
	Message   string
	Function  FunctionName
	Operation string

	ResourceType string
	ResourceID   string

	Cause     error
	Retryable bool
	Details   map[string]interface{}
}

func (e *FunctionError) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	if e.Function != "" {
		b.WriteString(string(e.Function))
		b.WriteByte(':')
	}
	b.WriteString(string(e.Category))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *FunctionError) Unwrap() error { return e.Cause }

func (e *FunctionError) Is(target error) bool {
	var other *FunctionError
	return errors.As(target, &other) && other.Category == e.Category
}

// NewError creates a FunctionError. Retryable starts at the category default.
func NewError(category ErrorCategory, message string) *FunctionError {
	return &FunctionError{
		Category:  category,
		Message:   message,
		Retryable: categoryTraits[category].transient,
		Details:   make(map[string]interface{}),
	}
}

func (e *FunctionError) WithFunction(fn FunctionName) *FunctionError {
	e.Function = fn
	return e
}

func (e *FunctionError) WithOperation(op string) *FunctionError {
	e.Operation = op
	return e
}

func (e *FunctionError) WithResource(resourceType, resourceID string) *FunctionError {
	e.ResourceType, e.ResourceID = resourceType, resourceID
	return e
}

func (e *FunctionError) WithCause(err error) *FunctionError {
	e.Cause = err
	return e
}

// WithRetryable overrides the category default.
func (e *FunctionError) WithRetryable(retryable bool) *FunctionError {
	e.Retryable = retryable
	return e
}

func (e *FunctionError) WithDetail(key string, value interface{}) *FunctionError {
	e.Details[key] = value
	return e
}

func ErrAuth(message string) *FunctionError       { return NewError(ErrCategoryAuth, message) }
func ErrPermission(message string) *FunctionError { return NewError(ErrCategoryPermission, message) }
func ErrNetwork(message string) *FunctionError    { return NewError(ErrCategoryNetwork, message) }
func ErrValidation(message string) *FunctionError { return NewError(ErrCategoryValidation, message) }
func ErrConflict(message string) *FunctionError   { return NewError(ErrCategoryConflict, message) }
func ErrRateLimit(message string) *FunctionError  { return NewError(ErrCategoryRateLimit, message) }
func ErrInternal(message string) *FunctionError   { return NewError(ErrCategoryInternal, message) }
func ErrTimeout(message string) *FunctionError    { return NewError(ErrCategoryTimeout, message) }
func ErrUnavailable(message string) *FunctionError {
	return NewError(ErrCategoryUnavailable, message)
}

// ErrNotFound names the missing resource in the message and resource fields.
func ErrNotFound(resourceType, resourceID string) *FunctionError {
	return NewError(ErrCategoryNotFound, fmt.Sprintf("%s not found: %s", resourceType, resourceID)).
		WithResource(resourceType, resourceID)
}

func asFunctionError(err error) (*FunctionError, bool) {
	var fnErr *FunctionError
	ok := errors.As(err, &fnErr)
	return fnErr, ok
}

// IsCategory reports whether err wraps a FunctionError of category.
func IsCategory(err error, category ErrorCategory) bool {
	fnErr, ok := asFunctionError(err)
	return ok && fnErr.Category == category
}

// IsRetryable reports whether repeating the failed call may succeed.
// Uncategorized errors are not retried.
func IsRetryable(err error) bool {
	fnErr, ok := asFunctionError(err)
	return ok && fnErr.Retryable
}

// CategoryOf returns the category of err; uncategorized errors are internal.
func CategoryOf(err error) ErrorCategory {
	if fnErr, ok := asFunctionError(err); ok {
		return fnErr.Category
	}
	return ErrCategoryInternal
}

// HTTPStatus maps err to the status an API Gateway function answers with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if traits, ok := categoryTraits[CategoryOf(err)]; ok {
		return traits.status
	}
	return http.StatusInternalServerError
}

// BatchError collects per-item failures of an operation that keeps going
// after one item fails.
type BatchError struct {
	Operation string
	// Failures maps an item identifier to the error it produced.
	Failures map[string]error
}

func NewBatchError(operation string) *BatchError {
	return &BatchError{Operation: operation, Failures: make(map[string]error)}
}

func (e *BatchError) Add(item string, err error) {
	e.Failures[item] = err
}

// ErrOrNil returns e when any failure was recorded, so a nil *BatchError
// never ends up inside a non-nil error interface.
func (e *BatchError) ErrOrNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}

func (e *BatchError) Error() string {
	items := make([]string, 0, len(e.Failures))
	for item, err := range e.Failures {
		items = append(items, fmt.Sprintf("%s: %v", item, err))
	}
	sort.Strings(items)
	return fmt.Sprintf("%s failed for %d item(s): %s", e.Operation, len(e.Failures), strings.Join(items, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
