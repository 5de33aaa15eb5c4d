package tools

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
		5: 1600 * time.Millisecond,
		6: 3200 * time.Millisecond,
		7: 5000 * time.Millisecond, // capped
		8: 5000 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := p.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
	if got := p.Backoff(0); got != 0 {
		t.Errorf("Backoff(0) = %v, want 0", got)
	}
}

func TestShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, InitialBackoffMs: 1, MaxBackoffMs: 5}
	if !p.ShouldRetry(1) || !p.ShouldRetry(2) {
		t.Error("retries before the limit refused")
	}
	if p.ShouldRetry(3) || p.ShouldRetry(4) {
		t.Error("retries at/after the limit allowed")
	}
}

func TestExecutionResultText(t *testing.T) {
	done := ExecutionResult{Status: StatusDone, Output: "hello"}
	if done.IsError() || done.Text() != "hello" {
		t.Errorf("done result misbehaves: %+v", done)
	}
	failed := ExecutionResult{Status: StatusError, Error: "boom"}
	if !failed.IsError() || failed.Text() != "boom" {
		t.Errorf("error result misbehaves: %+v", failed)
	}
}
