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

package actions

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/bugbridge/internal/log"
)

// reloadDebounce coalesces the bursts of filesystem events editors emit
// when saving a file.
const reloadDebounce = 250 * time.Millisecond

// Store owns the current action Registry and can hot reload it when the
// configuration file changes. An invalid edit keeps the previous registry.
type Store struct {
	path       string
	knownSteps map[string]bool
	logger     *slog.Logger
	registry   atomic.Pointer[Registry]
}

// NewStore loads the actions file and returns a Store serving it.
func NewStore(path string, knownSteps map[string]bool, logger *slog.Logger) (*Store, error) {
	registry, err := Load(path, knownSteps)
	if err != nil {
		return nil, err
	}

	store := &Store{
		path:       path,
		knownSteps: knownSteps,
		logger:     log.WithComponent(logger, "actions"),
	}
	store.registry.Store(registry)
	return store, nil
}

// Registry returns the currently loaded registry. The returned value is
// immutable; callers may hold it across an entire pipeline execution.
func (s *Store) Registry() *Registry {
	return s.registry.Load()
}

// Watch reloads the registry whenever the actions file changes, until the
// context is cancelled. The parent directory is watched rather than the
// file itself so atomic-rename saves keep working.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timerC = nil
			timer = nil
			s.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("actions file watcher error", log.Error(err))
		}
	}
}

func (s *Store) reload() {
	registry, err := Load(s.path, s.knownSteps)
	if err != nil {
		s.logger.Error("actions file reload failed, keeping previous configuration",
			slog.String("path", s.path),
			log.Error(err),
		)
		return
	}
	s.registry.Store(registry)
	s.logger.Info("actions file reloaded",
		slog.String("path", s.path),
		slog.Int("actions", len(registry.All())),
	)
}
