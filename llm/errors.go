package llm

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCategory defines standardized error categories for audit trails
type ErrorCategory string

const (
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryRateLimit      ErrorCategory = "rate_limit"
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryModel          ErrorCategory = "model"
	ErrorCategoryReconciliation ErrorCategory = "reconciliation"
	ErrorCategorySystem         ErrorCategory = "system"
)

// DeidError wraps errors with standardized metadata for audit trails
type DeidError struct {
	Category    ErrorCategory
	OriginalErr error
	RequestID   string
	Timestamp   time.Time
	Details     map[string]interface{}
}

func (e DeidError) Error() string {
	return fmt.Sprintf("[%s] %s (request: %s)", e.Category, e.OriginalErr.Error(), e.RequestID)
}

func (e DeidError) Unwrap() error {
	return e.OriginalErr
}

// newDeidError creates a new DeidError with standard fields
func newDeidError(category ErrorCategory, err error, requestID string, details map[string]interface{}) DeidError {
	return DeidError{
		Category:    category,
		OriginalErr: err,
		RequestID:   requestID,
		Timestamp:   time.Now(),
		Details:     details,
	}
}

// categorizeError categorizes error based on error message
func categorizeError(err error) ErrorCategory {
	errStr := err.Error()

	if strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") {
		return ErrorCategoryRateLimit
	} else if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return ErrorCategoryTimeout
	} else if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") {
		return ErrorCategoryNetwork
	} else if strings.Contains(errStr, "model") || strings.Contains(errStr, "tool returned") {
		return ErrorCategoryModel
	} else if strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation") {
		return ErrorCategoryValidation
	}

	return ErrorCategorySystem
}
