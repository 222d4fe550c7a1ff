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
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tombee/bugbridge/pkg/errors"
)

// FileBackend stores one directory per bug under the root, with one JSON
// file per item named "<identifier>.json". Lexicographic filename order
// matches (event.time, bug, action, kind) order by construction. Writes
// are atomic per file (write to temp, rename), which is the whole
// concurrency story: the retry worker is the only deleter and concurrent
// insertion cannot corrupt existing items.
type FileBackend struct {
	root string
}

// NewFileBackend creates the root directory if needed.
func NewFileBackend(root string) (*FileBackend, error) {
	if root == "" {
		return nil, dsnError("file://", "empty path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, dsnError("file://"+root, fmt.Sprintf("unable to create queue root: %v", err))
	}
	return &FileBackend{root: root}, nil
}

func (b *FileBackend) bugDir(bugID int) string {
	return filepath.Join(b.root, strconv.Itoa(bugID))
}

func (b *FileBackend) itemPath(bugID int, identifier string) string {
	return filepath.Join(b.bugDir(bugID), identifier+".json")
}

// Put writes the item atomically.
func (b *FileBackend) Put(_ context.Context, item *Item) error {
	dir := b.bugDir(item.BugID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating bug directory")
	}

	encoded, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encoding queue item")
	}

	path := b.itemPath(item.BugID(), item.Identifier())
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing queue item")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "renaming queue item into place")
	}
	return nil
}

// Remove unlinks the item and prunes the bug directory when it empties.
func (b *FileBackend) Remove(_ context.Context, bugID int, identifier string) error {
	path := b.itemPath(bugID, identifier)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "removing queue item")
	}

	dir := b.bugDir(bugID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, "reading bug directory")
	}
	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(err, "removing empty bug directory")
		}
	}
	return nil
}

// identifiers lists the item identifiers of a bug in ascending order.
func (b *FileBackend) identifiers(bugID int) ([]string, error) {
	entries, err := os.ReadDir(b.bugDir(bugID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading bug directory")
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Get yields the bug's items in ascending order. A file that cannot be
// read or decoded yields a QueueItemError without stopping iteration.
func (b *FileBackend) Get(_ context.Context, bugID int) Items {
	return func(yield func(*Item, error) bool) {
		ids, err := b.identifiers(bugID)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			path := b.itemPath(bugID, id)
			raw, err := os.ReadFile(path)
			if err != nil {
				if !yield(nil, &errors.QueueItemError{Path: path, Cause: err}) {
					return
				}
				continue
			}
			var item Item
			if err := json.Unmarshal(raw, &item); err != nil || item.Payload == nil || item.Payload.Bug == nil || item.Payload.Event == nil {
				if err == nil {
					err = errors.New("missing payload fields")
				}
				if !yield(nil, &errors.QueueItemError{Path: path, Cause: err}) {
					return
				}
				continue
			}
			if !yield(&item, nil) {
				return
			}
		}
	}
}

func (b *FileBackend) bugIDs() ([]int, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, errors.Wrap(err, "reading queue root")
	}
	var ids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetAll returns every bug's item sequence.
func (b *FileBackend) GetAll(ctx context.Context) (map[int]Items, error) {
	ids, err := b.bugIDs()
	if err != nil {
		return nil, err
	}
	all := make(map[int]Items, len(ids))
	for _, id := range ids {
		all[id] = b.Get(ctx, id)
	}
	return all, nil
}

// List returns the ordered identifiers of one bug.
func (b *FileBackend) List(_ context.Context, bugID int) ([]string, error) {
	return b.identifiers(bugID)
}

// ListAll returns the ordered identifiers of every bug.
func (b *FileBackend) ListAll(_ context.Context) (map[int][]string, error) {
	ids, err := b.bugIDs()
	if err != nil {
		return nil, err
	}
	all := make(map[int][]string, len(ids))
	for _, id := range ids {
		identifiers, err := b.identifiers(id)
		if err != nil {
			return nil, err
		}
		all[id] = identifiers
	}
	return all, nil
}

// SizeForBug counts the items queued for one bug.
func (b *FileBackend) SizeForBug(_ context.Context, bugID int) (int, error) {
	ids, err := b.identifiers(bugID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Size counts all queued items.
func (b *FileBackend) Size(ctx context.Context) (int, error) {
	bugs, err := b.bugIDs()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range bugs {
		n, err := b.SizeForBug(ctx, id)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Clear removes every bug directory.
func (b *FileBackend) Clear(_ context.Context) error {
	bugs, err := b.bugIDs()
	if err != nil {
		return err
	}
	for _, id := range bugs {
		if err := os.RemoveAll(b.bugDir(id)); err != nil {
			return errors.Wrap(err, "clearing bug directory")
		}
	}
	return nil
}

// Ping writes and removes a probe file.
func (b *FileBackend) Ping(_ context.Context) bool {
	probe, err := os.CreateTemp(b.root, ".ping-*")
	if err != nil {
		return false
	}
	probe.Close()
	return os.Remove(probe.Name()) == nil
}

// Close is a no-op for the filesystem backend.
func (b *FileBackend) Close() error {
	return nil
}
