package model

import (
	"context"
	"errors"

	"github.com/kjstillabower/ambient-gateway/internal/circuitbreaker"
)

// ErrorCategory is a stable label for model failures in logs and metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryUpstreamStatus ErrorCategory = "upstream_status"
	ErrorCategoryResponse       ErrorCategory = "response"
	ErrorCategoryCircuitOpen    ErrorCategory = "circuit_open"
	ErrorCategoryCanceled       ErrorCategory = "canceled"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// CategorizeError maps a Generate error to an ErrorCategory. The breaker check
// comes first because an open circuit is also reported as ErrModelUnavailable.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrModelTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, ErrModelUnavailable):
		return ErrorCategoryNetwork
	case errors.Is(err, ErrModelStatus):
		return ErrorCategoryUpstreamStatus
	case errors.Is(err, ErrModelResponse):
		return ErrorCategoryResponse
	default:
		return ErrorCategoryUnknown
	}
}
