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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/bugbridge/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*SQLiteBackend)(nil)
)

// SQLiteBackend stores queue items in a single-file database. It suits
// deployments that want the queue inspectable with standard tooling
// without a directory tree of JSON files.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and if needed creates) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, dsnError("sqlite://", "empty path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dsnError("sqlite://"+path, fmt.Sprintf("unable to open database: %v", err))
	}

	// SQLite serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dsnError("sqlite://"+path, fmt.Sprintf("unable to connect: %v", err))
	}

	b := &SQLiteBackend{db: db}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, dsnError("sqlite://"+path, fmt.Sprintf("unable to execute %s: %v", pragma, err))
		}
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, dsnError("sqlite://"+path, fmt.Sprintf("unable to run migrations: %v", err))
	}

	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS queue_items (
		bug_id     INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		item       TEXT NOT NULL,
		PRIMARY KEY (bug_id, identifier)
	)`)
	return err
}

// Put inserts or replaces the item. Replacing keeps Put idempotent when a
// request is enqueued twice.
func (b *SQLiteBackend) Put(ctx context.Context, item *Item) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encoding queue item")
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO queue_items (bug_id, identifier, item) VALUES (?, ?, ?)`,
		item.BugID(), item.Identifier(), string(encoded))
	return errors.Wrap(err, "storing queue item")
}

// Remove deletes the identified item; absent items are ignored.
func (b *SQLiteBackend) Remove(ctx context.Context, bugID int, identifier string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE bug_id = ? AND identifier = ?`, bugID, identifier)
	return errors.Wrap(err, "removing queue item")
}

// Get yields the bug's items in ascending identifier order. A row that
// does not decode yields a QueueItemError without stopping iteration.
func (b *SQLiteBackend) Get(ctx context.Context, bugID int) Items {
	return func(yield func(*Item, error) bool) {
		rows, err := b.db.QueryContext(ctx,
			`SELECT identifier, item FROM queue_items WHERE bug_id = ? ORDER BY identifier ASC`, bugID)
		if err != nil {
			yield(nil, errors.Wrap(err, "querying queue items"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var identifier, raw string
			if err := rows.Scan(&identifier, &raw); err != nil {
				yield(nil, errors.Wrap(err, "scanning queue item"))
				return
			}
			var item Item
			if err := json.Unmarshal([]byte(raw), &item); err != nil || item.Payload == nil || item.Payload.Bug == nil || item.Payload.Event == nil {
				if err == nil {
					err = errors.New("missing payload fields")
				}
				path := fmt.Sprintf("queue_items[%d/%s]", bugID, identifier)
				if !yield(nil, &errors.QueueItemError{Path: path, Cause: err}) {
					return
				}
				continue
			}
			if !yield(&item, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, errors.Wrap(err, "iterating queue items"))
		}
	}
}

func (b *SQLiteBackend) bugIDs(ctx context.Context) ([]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT bug_id FROM queue_items`)
	if err != nil {
		return nil, errors.Wrap(err, "querying queued bugs")
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning bug id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetAll returns every bug's item sequence.
func (b *SQLiteBackend) GetAll(ctx context.Context) (map[int]Items, error) {
	ids, err := b.bugIDs(ctx)
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
func (b *SQLiteBackend) List(ctx context.Context, bugID int) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT identifier FROM queue_items WHERE bug_id = ? ORDER BY identifier ASC`, bugID)
	if err != nil {
		return nil, errors.Wrap(err, "listing queue items")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning identifier")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAll returns the ordered identifiers of every bug.
func (b *SQLiteBackend) ListAll(ctx context.Context) (map[int][]string, error) {
	bugs, err := b.bugIDs(ctx)
	if err != nil {
		return nil, err
	}
	all := make(map[int][]string, len(bugs))
	for _, id := range bugs {
		ids, err := b.List(ctx, id)
		if err != nil {
			return nil, err
		}
		all[id] = ids
	}
	return all, nil
}

// SizeForBug counts the items queued for one bug.
func (b *SQLiteBackend) SizeForBug(ctx context.Context, bugID int) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE bug_id = ?`, bugID).Scan(&n)
	return n, errors.Wrap(err, "counting queue items")
}

// Size counts all queued items.
func (b *SQLiteBackend) Size(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items`).Scan(&n)
	return n, errors.Wrap(err, "counting queue items")
}

// Clear removes everything.
func (b *SQLiteBackend) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM queue_items`)
	return errors.Wrap(err, "clearing queue")
}

// Ping proves writability with a throwaway transaction.
func (b *SQLiteBackend) Ping(ctx context.Context) bool {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queue_items (bug_id, identifier, item) VALUES (-1, '.ping', '{}')`); err != nil {
		return false
	}
	return tx.Rollback() == nil
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
