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

// Package queue implements the durable dead letter queue: a per-bug FIFO
// store of webhook requests that could not be processed live.
package queue

import (
	"fmt"
	"time"

	"github.com/tombee/bugbridge/internal/bugzilla"
)

// ItemError captures the failure that put an item in the queue.
type ItemError struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
}

// NewItemError snapshots an error for storage.
func NewItemError(err error) *ItemError {
	if err == nil {
		return nil
	}
	return &ItemError{
		Type:        fmt.Sprintf("%T", err),
		Description: err.Error(),
	}
}

// Item is one queued webhook request. Items without an Error were
// postponed to preserve per-bug ordering; items with one failed live
// processing.
type Item struct {
	Payload    *bugzilla.WebhookRequest `json:"payload"`
	Error      *ItemError               `json:"error,omitempty"`
	EnqueuedAt time.Time                `json:"enqueued_at"`
}

// BugID is the bug this item belongs to.
func (i *Item) BugID() int {
	return i.Payload.Bug.ID
}

// Timestamp is the event time, authoritative for per-bug ordering.
func (i *Item) Timestamp() time.Time {
	return i.Payload.Event.Time
}

// Identifier renders the storage key
// "<RFC3339-time>-<bug_id>-<event.action>-<error|postponed>".
// Lexicographic order of identifiers within one bug matches event time
// order because the UTC timestamp leads.
func (i *Item) Identifier() string {
	kind := "postponed"
	if i.Error != nil {
		kind = "error"
	}
	return fmt.Sprintf("%s-%d-%s-%s",
		i.Payload.Event.Time.UTC().Format(time.RFC3339),
		i.Payload.Bug.ID,
		i.Payload.Event.Action,
		kind,
	)
}
