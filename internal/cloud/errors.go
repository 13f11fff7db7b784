// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for common gateway failures. A DispatchError unwraps to one
// of these when the status code identifies it.
var (
	// ErrNotConfigured indicates no credential was supplied.
	ErrNotConfigured = errors.New("upstream credential not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrTimeout indicates a single attempt exceeded the tier timeout.
	ErrTimeout = errors.New("upstream timeout")
)

// Error codes carried by DispatchError when the gateway supplies none.
const (
	CodeTimeout       = "timeout"
	CodeNetwork       = "network"
	CodeCancelled     = "cancelled"
	CodeNotConfigured = "not_configured"
)

// =============================================================================
// DISPATCH ERROR
// =============================================================================

// DispatchError is the typed failure returned by Client.Dispatch.
type DispatchError struct {
	// Message is a human-readable description, safe to log.
	Message string

	// Code is the gateway error code, or one of the Code* constants.
	Code string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Retryable reports whether the failure class is transient. After the
	// retry budget is spent the flag stays set so callers can choose a
	// different tier.
	Retryable bool

	// Attempts is the total number of attempts made.
	Attempts int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	var b strings.Builder
	b.WriteString("dispatch failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a retryable DispatchError.
func IsRetryable(err error) bool {
	var dErr *DispatchError
	if errors.As(err, &dErr) {
		return dErr.Retryable
	}
	return false
}

// RetryableStatus reports whether an HTTP status is transient:
// 408, 429 and any 5xx.
func RetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500 && status < 600:
		return true
	default:
		return false
	}
}

// =============================================================================
// ERROR RESPONSES
// =============================================================================

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// handleErrorResponse converts a non-2xx response into a DispatchError.
func handleErrorResponse(statusCode int, body []byte) *DispatchError {
	dErr := &DispatchError{
		StatusCode: statusCode,
		Retryable:  RetryableStatus(statusCode),
		Err:        sentinelForStatus(statusCode),
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		dErr.Message = apiErr.Error.Message
		dErr.Code = decodeCode(apiErr.Error.Code)
		return dErr
	}

	dErr.Message = http.StatusText(statusCode)
	if dErr.Message == "" {
		dErr.Message = "unexpected status"
	}
	return dErr
}

// decodeCode accepts both string and numeric error codes.
func decodeCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func sentinelForStatus(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// cancelledError wraps a caller cancellation.
func cancelledError(err error, attempts int) *DispatchError {
	return &DispatchError{
		Message:  err.Error(),
		Code:     CodeCancelled,
		Attempts: attempts,
		Err:      err,
	}
}

// isCancellation reports whether err came from the caller's context.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
