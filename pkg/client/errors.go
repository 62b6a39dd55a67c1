package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrQuotaExhausted is returned when the daily quota budget is spent.
	ErrQuotaExhausted = errors.New("youtube quota exhausted")
)

// Error reasons reported by the YouTube Data API in error.errors[].reason.
const (
	ReasonQuotaExceeded         = "quotaExceeded"
	ReasonDailyLimitExceeded    = "dailyLimitExceeded"
	ReasonRateLimitExceeded     = "rateLimitExceeded"
	ReasonUserRateLimitExceeded = "userRateLimitExceeded"
)

// APIError is a YouTube Data API error with its classification.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Reason     string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = e.Reason + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("youtube %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, msg, e.Err)
	}
	return fmt.Sprintf("youtube %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
			Domain string `json:"domain"`
		} `json:"errors"`
	} `json:"error"`
}

// readErrorReason extracts the first error reason and message from a Google
// API error body. The body is restored so the caller can decode it again.
func readErrorReason(resp *http.Response) (reason, message string) {
	if resp == nil || resp.Body == nil {
		return "", ""
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return "", ""
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return "", resp.Status
	}
	message = body.Error.Message
	if message == "" {
		message = resp.Status
	}
	if len(body.Error.Errors) > 0 {
		reason = body.Error.Errors[0].Reason
	}
	return reason, message
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	case ErrorClassClient:
		// 4xx errors are not transient
		return false
	case ErrorClassQuota:
		// retrying only burns more of an empty budget
		return false
	default:
		return false
	}
}
