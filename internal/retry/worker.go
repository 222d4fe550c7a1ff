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

package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/metrics"
	"github.com/tombee/bugbridge/internal/queue"
	"github.com/tombee/bugbridge/internal/runner"
	"github.com/tombee/bugbridge/pkg/errors"
)

// defaultInterval is the sleep between passes in constant mode.
const defaultInterval = 10 * time.Second

// Executor replays a webhook request. *runner.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, request *bugzilla.WebhookRequest, registry *actions.Registry) (*runner.Result, error)
}

// RegistrySource yields the current action registry, which may change
// between passes when the configuration file is reloaded.
// *actions.Store implements it.
type RegistrySource interface {
	Registry() *actions.Registry
}

// Config configures the retry worker.
type Config struct {
	// Timeout is the age beyond which queued items expire.
	Timeout time.Duration

	// Constant makes Run loop continuously with a small sleep between
	// passes. When false, Run performs a single pass and returns (the
	// deployment schedules it as a periodic job).
	Constant bool

	// Interval is the sleep between passes in constant mode.
	// Default: 10s.
	Interval time.Duration

	// Clock defaults to the system clock.
	Clock Clock
}

// Worker replays queued items. Only one worker may run against a given
// queue storage; multi-instance deployments must elect one externally.
type Worker struct {
	queue   *queue.DeadLetterQueue
	runner  Executor
	store   RegistrySource
	metrics *metrics.Collector
	logger  *slog.Logger

	timeout  time.Duration
	constant bool
	interval time.Duration
	clock    Clock
}

// New builds a Worker. The metrics collector may be nil in tests.
func New(dlq *queue.DeadLetterQueue, r Executor, store RegistrySource, collector *metrics.Collector, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	return &Worker{
		queue:    dlq,
		runner:   r,
		store:    store,
		metrics:  collector,
		logger:   log.WithComponent(logger, "retry"),
		timeout:  cfg.Timeout,
		constant: cfg.Constant,
		interval: cfg.Interval,
		clock:    cfg.Clock,
	}
}

// Run executes retry passes until the context is cancelled (constant
// mode) or after a single pass (one-shot mode).
func (w *Worker) Run(ctx context.Context) error {
	if !w.constant {
		return w.RunOnce(ctx)
	}

	w.logger.Info("retry worker started", slog.Duration("interval", w.interval))
	for {
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("retry pass failed", log.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("retry worker stopped")
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
}

// RunOnce performs one pass over the whole queue.
//
// Per bug, items are visited in ascending event time. Expired items are
// removed without processing, even for bugs already marked failed: expiry
// bypasses head-of-line blocking. A failed item blocks the rest of its
// bug for this pass, preserving causality (a create must land before its
// updates). Items classified as invalid are removed permanently.
func (w *Worker) RunOnce(ctx context.Context) error {
	cutoff := w.clock.Now().UTC().Add(-w.timeout)

	all, err := w.queue.Retrieve(ctx)
	if err != nil {
		return err
	}

	failed := make(map[int]bool)

	for bugID, items := range all {
		logger := w.logger.With(slog.Int(log.BugIDKey, bugID))

		for item, err := range items {
			if err != nil {
				// Corrupt stored item: skip it, keep going. It does not
				// block the bug; the operator is warned instead.
				logger.Warn("unreadable queue item skipped", log.Error(err))
				continue
			}

			if item.Timestamp().Before(cutoff) {
				logger.Warn("queue item expired, removing",
					slog.String(log.ItemKey, item.Identifier()),
					slog.Time("event_time", item.Timestamp()),
				)
				if err := w.queue.Done(ctx, item); err != nil {
					return err
				}
				if w.metrics != nil {
					w.metrics.RecordExpired(ctx)
				}
				continue
			}

			if failed[bugID] {
				if w.metrics != nil {
					w.metrics.RecordRetried(ctx, "blocked")
				}
				continue
			}

			_, execErr := w.runner.Execute(ctx, item.Payload, w.store.Registry())
			switch {
			case execErr == nil:
				if err := w.queue.Done(ctx, item); err != nil {
					return err
				}
				if w.metrics != nil {
					w.metrics.RecordRetried(ctx, "success")
				}

			case errors.IsInvalidRequest(execErr):
				// Permanently not processable; drop it so later items
				// for this bug are not stuck behind it.
				logger.Info("queue item classified invalid, removing",
					slog.String(log.ItemKey, item.Identifier()),
					log.Error(execErr),
				)
				if err := w.queue.Done(ctx, item); err != nil {
					return err
				}
				if w.metrics != nil {
					w.metrics.RecordRetried(ctx, "skipped")
				}

			default:
				logger.Warn("queue item failed, blocking bug for this pass",
					slog.String(log.ItemKey, item.Identifier()),
					log.Error(execErr),
				)
				failed[bugID] = true
				if w.metrics != nil {
					w.metrics.RecordRetried(ctx, "failed")
				}
			}
		}
	}

	return nil
}
