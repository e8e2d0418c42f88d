package persona

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory is the normalized vendor failure taxonomy.
type ErrorCategory string

const (
	ErrorTimeout          ErrorCategory = "timeout"
	ErrorBadData          ErrorCategory = "bad_data"
	ErrorAuthentication   ErrorCategory = "authentication"
	ErrorProviderOutage   ErrorCategory = "provider_outage"
	ErrorContractMismatch ErrorCategory = "contract_mismatch"
	ErrorNotFound         ErrorCategory = "not_found"
	ErrorRateLimited      ErrorCategory = "rate_limited"
	ErrorInternal         ErrorCategory = "internal"
)

// ProviderError wraps vendor failures with a normalized category.
type ProviderError struct {
	Category   ErrorCategory
	Operation  string
	StatusCode int
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("persona %s [%s]: %s: %v", e.Operation, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("persona %s [%s]: %s", e.Operation, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a normalized vendor error. Nothing in this
// service retries; Retryable is informational for logs and callers.
func NewProviderError(category ErrorCategory, operation, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorProviderOutage || category == ErrorRateLimited,
	}
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// IsNotFound reports a vendor 404.
func IsNotFound(err error) bool {
	return GetCategory(err) == ErrorNotFound
}

func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuthentication
	case status == http.StatusNotFound:
		return ErrorNotFound
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return ErrorContractMismatch
	case status >= 500:
		return ErrorProviderOutage
	}
	return ErrorBadData
}

func transportError(operation string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(ErrorTimeout, operation, "request timed out", err)
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return NewProviderError(ErrorTimeout, operation, "request timed out", err)
	}
	return NewProviderError(ErrorProviderOutage, operation, "request failed", err)
}
