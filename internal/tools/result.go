// Package tools dispatches tool calls emitted by the model: built-ins
// (exec, bash, web, memory, messaging), skills and user-created tools.
// Execution is policy-checked, approval-gated, retried with backoff and
// bounded by per-attempt timeouts.
package tools

import (
	"time"
)

// Status values for an ExecutionResult.
const (
	StatusDone  = "done"
	StatusError = "error"
)

// ExecutionResult is the outcome of one tool call, including retries.
type ExecutionResult struct {
	Status          string `json:"status"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Attempt         int    `json:"attempt"`
	MaxAttempts     int    `json:"max_attempts"`
}

// IsError reports whether the call ultimately failed.
func (r ExecutionResult) IsError() bool {
	return r.Status == StatusError
}

// Text returns the content handed back to the model.
func (r ExecutionResult) Text() string {
	if r.IsError() {
		return r.Error
	}
	return r.Output
}

// RetryPolicy governs the executor's retry loop.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int

	// InitialBackoffMs is the delay after the first failure; it doubles
	// each retry.
	InitialBackoffMs int

	// MaxBackoffMs caps the delay.
	MaxBackoffMs int
}

// DefaultRetryPolicy returns the shipped retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       10,
		InitialBackoffMs: 100,
		MaxBackoffMs:     5000,
	}
}

// Backoff returns the sleep before the given attempt's retry:
// min(initial * 2^(attempt-1), max). Attempt 0 sleeps nothing.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	backoff := int64(p.InitialBackoffMs)
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= int64(p.MaxBackoffMs) {
			backoff = int64(p.MaxBackoffMs)
			break
		}
	}
	if backoff > int64(p.MaxBackoffMs) {
		backoff = int64(p.MaxBackoffMs)
	}
	return time.Duration(backoff) * time.Millisecond
}

// ShouldRetry reports whether another attempt is available.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}
