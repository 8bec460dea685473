// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError wraps an underlying failure with an explicit retry
// classification, so a caller can hand the harness errors that don't
// otherwise satisfy a well-known classifier rule (HTTP status, network
// error) but are known to be safe to retry.
type RetryableError struct {
	Retryable bool
	Err       error
}

func (e *RetryableError) Error() string {
	if e.Err == nil {
		return "retryable error"
	}
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error { return e.Err }

func (e *RetryableError) IsRetryable() bool { return e.Retryable }

// TimeoutError is raised when an attempt loses its race against the
// per-attempt timeout. It is always retryable; the harness treats it as an
// ordinary retryable failure for the purposes of the retry budget.
type TimeoutError struct {
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt, e.Timeout)
}

func (e *TimeoutError) IsRetryable() bool { return true }

// ExhaustedError is the final error surfaced when every attempt permitted by
// the policy has been consumed. It wraps the last underlying error and
// records how many attempts were made.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// classifiable is implemented by any error that knows whether it is safe to
// retry. Errors from pkg/llm, pkg/mcp, and RetryableError all satisfy it.
type classifiable interface {
	IsRetryable() bool
}

// IsRetryable applies the default classifier: an error is retryable if it
// (or something in its Unwrap chain) implements classifiable and reports
// true, or if it is a *TimeoutError. Unknown error types are not retryable
// by default — a caller relying on network/5xx classification should use a
// typed error or a custom Classifier.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var c classifiable
	if errors.As(err, &c) {
		return c.IsRetryable()
	}
	return false
}
