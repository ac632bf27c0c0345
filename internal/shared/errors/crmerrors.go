package errors

import (
	"errors"
	"fmt"
	"time"
)

// CRMAPIError represents a failed call against the CRM REST or bulk API.
// StatusCode is zero when the failure happened before a response was read.
type CRMAPIError struct {
	Message    string
	StatusCode int
	Body       string
}

func (e *CRMAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", ErrorTypeCRMAPI, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", ErrorTypeCRMAPI, e.Message)
}

// NewCRMAPIError creates a new CRM API error
func NewCRMAPIError(message string, statusCode int, body string) *CRMAPIError {
	return &CRMAPIError{
		Message:    message,
		StatusCode: statusCode,
		Body:       body,
	}
}

// IsCRMAPIError checks if the error is a CRM API error
func IsCRMAPIError(err error) bool {
	var apiErr *CRMAPIError
	return errors.As(err, &apiErr)
}

// GetCRMAPIError extracts a CRMAPIError from an error chain
func GetCRMAPIError(err error) *CRMAPIError {
	var apiErr *CRMAPIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// TimeoutError indicates an operation exceeded its wait bound. The underlying
// work may still complete server-side; callers must not assume it was aborted.
type TimeoutError struct {
	Message string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s after %s", ErrorTypeTimeout, e.Message, e.Elapsed)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, elapsed time.Duration) *TimeoutError {
	return &TimeoutError{Message: message, Elapsed: elapsed}
}

// IsTimeoutError checks if the error is a timeout error
func IsTimeoutError(err error) bool {
	var toErr *TimeoutError
	return errors.As(err, &toErr)
}

// RateLimitError is returned when an API call would exceed a configured rate
// limit tier. No quota is consumed when this error is returned.
type RateLimitError struct {
	Tier       string
	Usage      map[string]int
	Limits     map[string]int
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: tier %s (retry after %ds)", ErrorTypeRateLimit, e.Tier, e.RetryAfter)
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(tier string, usage, limits map[string]int, retryAfter int) *RateLimitError {
	return &RateLimitError{
		Tier:       tier,
		Usage:      usage,
		Limits:     limits,
		RetryAfter: retryAfter,
	}
}

// IsRateLimitError checks if the error is a rate limit error
func IsRateLimitError(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}

// GetRateLimitError extracts a RateLimitError from an error chain
func GetRateLimitError(err error) *RateLimitError {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr
	}
	return nil
}
