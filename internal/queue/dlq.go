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
	"log/slog"
	"time"

	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/log"
)

// DeadLetterQueue is the domain-level surface over a Backend. The webhook
// intake postpones or tracks failed requests; the retry worker retrieves
// and completes them.
type DeadLetterQueue struct {
	backend Backend
	logger  *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewDeadLetterQueue wraps a backend.
func NewDeadLetterQueue(backend Backend, logger *slog.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{
		backend: backend,
		logger:  log.WithComponent(logger, "dl_queue"),
		now:     time.Now,
	}
}

// IsBlocked reports whether the request's bug already has queued items.
// A blocked bug must not be processed live: new requests are appended to
// the queue so the retry worker preserves event order.
func (q *DeadLetterQueue) IsBlocked(ctx context.Context, request *bugzilla.WebhookRequest) (bool, error) {
	size, err := q.backend.SizeForBug(ctx, request.Bug.ID)
	if err != nil {
		return false, err
	}
	return size > 0, nil
}

// Postpone enqueues a request that was not attempted, keeping it behind
// the bug's earlier items.
func (q *DeadLetterQueue) Postpone(ctx context.Context, request *bugzilla.WebhookRequest) (*Item, error) {
	item := &Item{Payload: request, EnqueuedAt: q.now().UTC()}
	if err := q.backend.Put(ctx, item); err != nil {
		return nil, err
	}
	q.logger.Info("request postponed",
		slog.Int(log.BugIDKey, request.Bug.ID),
		slog.String(log.ItemKey, item.Identifier()),
	)
	return item, nil
}

// TrackFailed enqueues a request whose live processing failed, capturing
// the error alongside the payload.
func (q *DeadLetterQueue) TrackFailed(ctx context.Context, request *bugzilla.WebhookRequest, cause error) (*Item, error) {
	item := &Item{
		Payload:    request,
		Error:      NewItemError(cause),
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.backend.Put(ctx, item); err != nil {
		return nil, err
	}
	q.logger.Warn("request failed, tracked for retry",
		slog.Int(log.BugIDKey, request.Bug.ID),
		slog.String(log.ItemKey, item.Identifier()),
		log.Error(cause),
	)
	return item, nil
}

// Done removes a completed item.
func (q *DeadLetterQueue) Done(ctx context.Context, item *Item) error {
	return q.backend.Remove(ctx, item.BugID(), item.Identifier())
}

// Remove removes an item by bug and identifier.
func (q *DeadLetterQueue) Remove(ctx context.Context, bugID int, identifier string) error {
	return q.backend.Remove(ctx, bugID, identifier)
}

// Retrieve returns every bug's pending items, per-bug ascending.
func (q *DeadLetterQueue) Retrieve(ctx context.Context) (map[int]Items, error) {
	return q.backend.GetAll(ctx)
}

// ListAll returns the ordered identifiers of every queued bug.
func (q *DeadLetterQueue) ListAll(ctx context.Context) (map[int][]string, error) {
	return q.backend.ListAll(ctx)
}

// Size counts all queued items.
func (q *DeadLetterQueue) Size(ctx context.Context) (int, error) {
	return q.backend.Size(ctx)
}

// Ping proves the storage is usable.
func (q *DeadLetterQueue) Ping(ctx context.Context) bool {
	return q.backend.Ping(ctx)
}

// Close releases the backend.
func (q *DeadLetterQueue) Close() error {
	return q.backend.Close()
}
