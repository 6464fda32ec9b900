// Copyright 2026 The Relay Authors
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

// Package errors defines the error taxonomy used across the relay codebase.
// Each error kind fixes a distinct recovery policy: validation and permanent
// errors are never retried, temporary and rate-limit errors may be, and state
// transition errors indicate a bug rather than a runtime condition.
package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid trigger configuration, malformed workflow definitions,
// or constraint violations detected before execution.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "execution", "pause")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// AuthenticationError represents failed authentication against an external
// service or an inbound request with missing or invalid credentials.
type AuthenticationError struct {
	// Provider is the credential provider involved (e.g., "github", "slack")
	Provider string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("authentication failed for %s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// AuthorizationError represents an authenticated caller lacking permission.
type AuthorizationError struct {
	// Resource is the resource access was denied to
	Resource string

	// Message is the human-readable error description
	Message string
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("access denied to %s: %s", e.Resource, e.Message)
	}
	return fmt.Sprintf("access denied: %s", e.Message)
}

// RateLimitError represents an external API rate limit response.
// Callers should back off and retry after RetryAfter when set.
type RateLimitError struct {
	// Provider is the external service that rate limited us
	Provider string

	// RetryAfter is the server-suggested wait before retrying (zero if unknown)
	RetryAfter time.Duration

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s (retry after %v)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.Provider)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *RateLimitError) Unwrap() error {
	return e.Cause
}

// TemporaryError represents a transient failure (5xx responses, timeouts,
// connection resets) that is safe to retry.
type TemporaryError struct {
	// Operation describes what failed (e.g., "dispatch", "fetch PR files")
	Operation string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TemporaryError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("temporary failure in %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("temporary failure: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TemporaryError) Unwrap() error {
	return e.Cause
}

// PermanentError represents a failure that retrying will not fix.
type PermanentError struct {
	// Operation describes what failed
	Operation string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("permanent failure in %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("permanent failure: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// InvalidStateTransitionError indicates an execution state machine violation.
// This is an internal error: it means a caller attempted a transition the
// state machine does not allow, which indicates a bug rather than bad input.
type InvalidStateTransitionError struct {
	// ExecutionID is the execution whose transition was rejected
	ExecutionID string

	// From is the current status
	From string

	// To is the requested status
	To string
}

// Error implements the error interface.
func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for execution %s: %s -> %s", e.ExecutionID, e.From, e.To)
}

// TriggerError represents a failure during trigger evaluation or dispatch.
// A TriggerError never crashes the trigger task: the trigger stays active
// and fires again on the next event or tick.
type TriggerError struct {
	// TriggerID identifies the trigger that failed
	TriggerID string

	// Message is the human-readable error description
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TriggerError) Error() string {
	return fmt.Sprintf("trigger %s: %s", e.TriggerID, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TriggerError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "WORKFLOW_ENGINE_URL")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
