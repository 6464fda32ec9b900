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

package errors

import (
	"errors"
	"net/http"
)

// IsRetryable reports whether the error represents a condition worth
// retrying. Rate-limit and temporary errors are retryable; everything
// else is not.
func IsRetryable(err error) bool {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return true
	}
	var temporary *TemporaryError
	return errors.As(err, &temporary)
}

// IsAuth reports whether the error is an authentication or authorization
// failure. Triggers use this to mark credentials invalid instead of retrying.
func IsAuth(err error) bool {
	var authn *AuthenticationError
	if errors.As(err, &authn) {
		return true
	}
	var authz *AuthorizationError
	return errors.As(err, &authz)
}

// IsNotFound reports whether the error is a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsValidation reports whether the error is a ValidationError.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

// FromHTTPStatus classifies an HTTP response status from an external API
// into the relay error taxonomy. 2xx statuses return nil.
func FromHTTPStatus(provider, operation string, status int) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &AuthenticationError{Provider: provider, Message: "HTTP 401"}
	case status == http.StatusForbidden:
		return &AuthorizationError{Resource: provider, Message: "HTTP 403"}
	case status == http.StatusNotFound:
		return &NotFoundError{Resource: provider, ID: operation}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider}
	case status >= 500:
		return &TemporaryError{Operation: operation, Message: http.StatusText(status)}
	default:
		return &PermanentError{Operation: operation, Message: http.StatusText(status)}
	}
}

// HTTPStatus maps an error to the status code it should surface as.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	default:
		var authn *AuthenticationError
		if errors.As(err, &authn) {
			return http.StatusUnauthorized
		}
		var authz *AuthorizationError
		if errors.As(err, &authz) {
			return http.StatusForbidden
		}
		var rate *RateLimitError
		if errors.As(err, &rate) {
			return http.StatusTooManyRequests
		}
		return http.StatusInternalServerError
	}
}
