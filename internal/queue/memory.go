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
	"sort"
	"sync"
)

// MemoryBackend keeps items in process memory. It exists for tests and
// local development; nothing survives a restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[int][]*Item
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[int][]*Item)}
}

// Put inserts the item in (timestamp, identifier) position.
func (b *MemoryBackend) Put(_ context.Context, item *Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bugID := item.BugID()
	items := append(b.items[bugID], item)
	sort.Slice(items, func(i, j int) bool {
		return items[i].Identifier() < items[j].Identifier()
	})
	b.items[bugID] = items
	return nil
}

// Remove deletes the identified item; absent items are ignored.
func (b *MemoryBackend) Remove(_ context.Context, bugID int, identifier string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items[bugID]
	for i, item := range items {
		if item.Identifier() == identifier {
			items = append(items[:i], items[i+1:]...)
			break
		}
	}
	if len(items) == 0 {
		delete(b.items, bugID)
	} else {
		b.items[bugID] = items
	}
	return nil
}

func (b *MemoryBackend) snapshot(bugID int) []*Item {
	b.mu.RLock()
	defer b.mu.RUnlock()
	items := make([]*Item, len(b.items[bugID]))
	copy(items, b.items[bugID])
	return items
}

// Get yields the bug's items in ascending order.
func (b *MemoryBackend) Get(_ context.Context, bugID int) Items {
	return func(yield func(*Item, error) bool) {
		for _, item := range b.snapshot(bugID) {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// GetAll returns every bug's item sequence.
func (b *MemoryBackend) GetAll(ctx context.Context) (map[int]Items, error) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.items))
	for id := range b.items {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	all := make(map[int]Items, len(ids))
	for _, id := range ids {
		all[id] = b.Get(ctx, id)
	}
	return all, nil
}

// List returns the ordered identifiers of one bug.
func (b *MemoryBackend) List(_ context.Context, bugID int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []string
	for _, item := range b.items[bugID] {
		ids = append(ids, item.Identifier())
	}
	return ids, nil
}

// ListAll returns the ordered identifiers of every bug.
func (b *MemoryBackend) ListAll(ctx context.Context) (map[int][]string, error) {
	b.mu.RLock()
	bugs := make([]int, 0, len(b.items))
	for id := range b.items {
		bugs = append(bugs, id)
	}
	b.mu.RUnlock()

	all := make(map[int][]string, len(bugs))
	for _, id := range bugs {
		ids, _ := b.List(ctx, id)
		all[id] = ids
	}
	return all, nil
}

// SizeForBug counts the items queued for one bug.
func (b *MemoryBackend) SizeForBug(_ context.Context, bugID int) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items[bugID]), nil
}

// Size counts all queued items.
func (b *MemoryBackend) Size(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, items := range b.items {
		total += len(items)
	}
	return total, nil
}

// Clear removes everything.
func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = make(map[int][]*Item)
	return nil
}

// Ping always succeeds for the in-memory backend.
func (b *MemoryBackend) Ping(_ context.Context) bool {
	return true
}

// Close is a no-op for the in-memory backend.
func (b *MemoryBackend) Close() error {
	return nil
}
