// Copyright (C) 2025 Harbor Desk (oss@harbordesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Router Error Taxonomy
// =============================================================================

// ErrCode classifies router-internal failures. Adapter failures never cross
// the public Route boundary; the codes exist for logging and metrics labels.
type ErrCode string

const (
	// ErrCodeConfigInvalid marks a threshold or SLA value outside its
	// configured bounds.
	ErrCodeConfigInvalid ErrCode = "config_invalid"

	// ErrCodeAdapterTimeout marks a semantic cache or analyzer call that
	// exceeded its budget.
	ErrCodeAdapterTimeout ErrCode = "adapter_timeout"

	// ErrCodeAdapterUnavailable marks any other adapter failure.
	ErrCodeAdapterUnavailable ErrCode = "adapter_unavailable"

	// ErrCodeEmptyTicket marks input that breaks even the keyword safety
	// net: there is no text to classify.
	ErrCodeEmptyTicket ErrCode = "empty_ticket"
)

// RouterError is a typed routing failure.
//
// Description:
//
//	Carries a machine-readable code, a human-readable message, and whether
//	retrying the same call could succeed. Adapter errors are wrapped into
//	RouterErrors at the call boundary and consumed by the FALLBACK_SAFE
//	branch; they are never returned to the caller of Route.
type RouterError struct {
	Code      ErrCode
	Message   string
	Retryable bool

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *RouterError) Unwrap() error {
	return e.Cause
}

// NewRouterError creates a RouterError with the given code and message.
func NewRouterError(code ErrCode, message string, retryable bool) *RouterError {
	return &RouterError{Code: code, Message: message, Retryable: retryable}
}

// classifyAdapterError wraps an adapter failure into a RouterError,
// distinguishing deadline expiry from other failures.
//
// Inputs:
//
//	adapter - Adapter name for the message ("cache" or "fallback").
//	err - The adapter's error. Must not be nil.
//
// Outputs:
//
//	*RouterError - adapter_timeout for deadline/cancellation, otherwise
//	adapter_unavailable. Timeouts are retryable.
func classifyAdapterError(adapter string, err error) *RouterError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &RouterError{
			Code:      ErrCodeAdapterTimeout,
			Message:   adapter + " call timed out",
			Retryable: true,
			Cause:     err,
		}
	}
	var re *RouterError
	if errors.As(err, &re) {
		return re
	}
	return &RouterError{
		Code:      ErrCodeAdapterUnavailable,
		Message:   adapter + " call failed",
		Retryable: false,
		Cause:     err,
	}
}
