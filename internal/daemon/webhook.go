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

package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/metrics"
	"github.com/tombee/bugbridge/internal/queue"
	"github.com/tombee/bugbridge/internal/runner"
	"github.com/tombee/bugbridge/pkg/errors"
)

// Executor replays a webhook request. *runner.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, request *bugzilla.WebhookRequest, registry *actions.Registry) (*runner.Result, error)
}

// RegistrySource yields the current action registry. *actions.Store
// implements it.
type RegistrySource interface {
	Registry() *actions.Registry
}

// WebhookHandler is the intake for source-tracker webhook deliveries.
//
// The contract with the sender is: 2xx for everything except a malformed
// envelope (422). The sender disables webhooks that keep failing, so
// processing errors are answered 200 and recovered through the dead
// letter queue instead.
type WebhookHandler struct {
	runner  Executor
	queue   *queue.DeadLetterQueue
	store   RegistrySource
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewWebhookHandler builds the intake. The metrics collector may be nil
// in tests.
func NewWebhookHandler(r Executor, dlq *queue.DeadLetterQueue, store RegistrySource, collector *metrics.Collector, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		runner:  r,
		queue:   dlq,
		store:   store,
		metrics: collector,
		logger:  log.WithComponent(logger, "webhook"),
	}
}

// RegisterRoutes registers the intake on the router's protected surface.
func (h *WebhookHandler) RegisterRoutes(router *Router) {
	router.Mux().HandleFunc("POST /bugzilla_webhook", router.Protected(h.handleWebhook))
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var request bugzilla.WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed webhook payload: "+err.Error())
		return
	}
	if request.Bug == nil || request.Bug.ID == 0 || request.Event == nil {
		writeError(w, http.StatusUnprocessableEntity, "webhook payload is missing bug or event")
		return
	}

	ctx := r.Context()
	logger := h.logger.With(slog.Int(log.BugIDKey, request.Bug.ID))

	// A bug with queued items must not be processed live: the new event
	// joins the queue behind them so the retry worker preserves order.
	blocked, err := h.queue.IsBlocked(ctx, &request)
	if err != nil {
		logger.Error("queue lookup failed", log.Error(err))
		writeError(w, http.StatusInternalServerError, "queue storage unavailable")
		return
	}
	if blocked {
		if _, err := h.queue.Postpone(ctx, &request); err != nil {
			logger.Error("failed to postpone request", log.Error(err))
			writeError(w, http.StatusInternalServerError, "queue storage unavailable")
			return
		}
		h.recordEnqueued(ctx, "postponed")
		writeJSON(w, http.StatusOK, map[string]any{
			"handled": false,
			"reason":  "bug has queued items, request postponed",
		})
		return
	}

	result, err := h.runner.Execute(ctx, &request, h.store.Registry())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)

	case errors.IsInvalidRequest(err):
		// Dropped, not retried. Still a 200: the sender is not at fault.
		writeJSON(w, http.StatusOK, map[string]any{
			"handled": false,
			"error":   err.Error(),
		})

	default:
		if _, qerr := h.queue.TrackFailed(ctx, &request, err); qerr != nil {
			logger.Error("failed to track request for retry", log.Error(qerr))
			writeError(w, http.StatusInternalServerError, "queue storage unavailable")
			return
		}
		h.recordEnqueued(ctx, "error")
		sentry.CaptureException(err)
		writeJSON(w, http.StatusOK, map[string]any{
			"handled": false,
			"error":   err.Error(),
			"reason":  "processing failed, request queued for retry",
		})
	}
}

func (h *WebhookHandler) recordEnqueued(ctx context.Context, kind string) {
	if h.metrics != nil {
		h.metrics.RecordEnqueued(ctx, kind)
	}
}
