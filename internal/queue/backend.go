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

package queue

import (
	"context"
	"iter"
	"net/url"
	"strings"

	"github.com/tombee/bugbridge/pkg/errors"
)

func dsnError(dsn, reason string) error {
	return &errors.DSNError{DSN: dsn, Reason: reason}
}

// Items is a finite, single-use sequence of queue items in ascending
// (timestamp, identifier) order. A corrupt stored item yields a nil Item
// with a *errors.QueueItemError; iteration continues past it.
type Items = iter.Seq2[*Item, error]

// Backend is the storage layer beneath the dead letter queue.
type Backend interface {
	// Put appends an item, preserving per-bug ordering.
	Put(ctx context.Context, item *Item) error

	// Remove deletes an item. Removing an absent item is not an error;
	// removing the last item of a bug removes the bug's container.
	Remove(ctx context.Context, bugID int, identifier string) error

	// Get returns the items of one bug.
	Get(ctx context.Context, bugID int) Items

	// GetAll returns every bug's items. Iteration order across bugs is
	// unspecified.
	GetAll(ctx context.Context) (map[int]Items, error)

	// List returns the ordered identifiers of one bug.
	List(ctx context.Context, bugID int) ([]string, error)

	// ListAll returns the ordered identifiers of every bug.
	ListAll(ctx context.Context) (map[int][]string, error)

	// SizeForBug counts the items queued for one bug.
	SizeForBug(ctx context.Context, bugID int) (int, error)

	// Size counts all queued items.
	Size(ctx context.Context) (int, error)

	// Clear removes everything.
	Clear(ctx context.Context) error

	// Ping proves the storage is writable without corrupting state.
	Ping(ctx context.Context) bool

	// Close releases storage resources.
	Close() error
}

// NewBackend builds a Backend from a DSN. Supported schemes:
//
//	file:///var/lib/bugbridge/queue
//	sqlite:///var/lib/bugbridge/queue.db
//	memory://
//
// Anything else fails startup with a DSNError.
func NewBackend(dsn string) (Backend, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, dsnError(dsn, "not a valid URL")
	}

	switch parsed.Scheme {
	case "file":
		return NewFileBackend(dsnPath(parsed))
	case "sqlite":
		return NewSQLiteBackend(dsnPath(parsed))
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, dsnError(dsn, "unsupported scheme (expected file, sqlite, or memory)")
	}
}

// dsnPath joins host and path so both file:///abs/path and
// file://relative/path resolve usefully.
func dsnPath(u *url.URL) string {
	if u.Host == "" {
		return u.Path
	}
	return strings.TrimSuffix(u.Host+u.Path, "/")
}
