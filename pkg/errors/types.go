// Copyright 2025 Tom Barlow
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
	"fmt"
	"strings"
)

// InvalidRequestError marks a webhook request that should be dropped rather
// than retried: no matching action, a private bug under an action that
// disallows them, an unclassifiable event, or a source bug we cannot read.
// The intake answers 200 and the request is never enqueued.
type InvalidRequestError struct {
	// Reason is the human-readable explanation for ignoring the request
	Reason string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request ignored: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *InvalidRequestError) Unwrap() error {
	return e.Cause
}

// ActionNotFoundError is returned when none of a bug's whiteboard tags match
// a configured action.
type ActionNotFoundError struct {
	// Tags are the configured whiteboard tags that were searched
	Tags []string
}

// Error implements the error interface.
func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("no action found matching whiteboard tags: %s", strings.Join(e.Tags, ", "))
}

// CreateError represents an issue creation response whose envelope reports
// errors even though the HTTP exchange succeeded.
type CreateError struct {
	// Errors is the per-field error map from the response envelope
	Errors map[string]string

	// Messages is the free-form error message list from the response envelope
	Messages []string
}

// Error implements the error interface.
func (e *CreateError) Error() string {
	parts := make([]string, 0, len(e.Errors)+len(e.Messages))
	for field, msg := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	parts = append(parts, e.Messages...)
	return fmt.Sprintf("issue create response contains errors: %s", strings.Join(parts, "; "))
}

// QueueItemError represents a queue item that could not be read back from
// storage. Iteration over other bugs continues; the item is reported per-bug.
type QueueItemError struct {
	// Path identifies the stored item (file path or row key)
	Path string

	// Cause is the underlying decode or I/O error
	Cause error
}

// Error implements the error interface.
func (e *QueueItemError) Error() string {
	return fmt.Sprintf("unable to load queue item at %s", e.Path)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *QueueItemError) Unwrap() error {
	return e.Cause
}

// DSNError represents an unusable queue storage DSN. It is fatal at startup.
type DSNError struct {
	// DSN is the offending value
	DSN string

	// Reason explains what's wrong with it
	Reason string
}

// Error implements the error interface.
func (e *DSNError) Error() string {
	return fmt.Sprintf("invalid queue DSN %q: %s", e.DSN, e.Reason)
}

// ConfigError represents configuration problems: unreadable action files,
// invalid step groups, unknown step names, duplicated tags.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "steps.new")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
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

// ClientError represents a tracker API failure: a non-2xx response or an
// application-level error envelope.
type ClientError struct {
	// Service is the tracker name ("bugzilla", "jira")
	Service string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	msg := fmt.Sprintf("%s error", e.Service)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ClientError) Unwrap() error {
	return e.Cause
}
