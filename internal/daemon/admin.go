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
	"net/http"

	"github.com/tombee/bugbridge/internal/bugzilla"
)

// BugzillaAdmin is the source-tracker surface the admin endpoints
// consume.
type BugzillaAdmin interface {
	ListWebhooks(ctx context.Context) ([]bugzilla.Webhook, error)
}

// QueueAdmin lists queued items.
type QueueAdmin interface {
	ListAll(ctx context.Context) (map[int][]string, error)
}

// AdminHandler serves the read-only operator endpoints: configured tags,
// target projects, registered webhooks, and the queue contents.
type AdminHandler struct {
	bugzilla BugzillaAdmin
	jira     JiraHealth
	queue    QueueAdmin
	store    RegistrySource
}

// NewAdminHandler builds the admin handler.
func NewAdminHandler(bz BugzillaAdmin, j JiraHealth, q QueueAdmin, store RegistrySource) *AdminHandler {
	return &AdminHandler{bugzilla: bz, jira: j, queue: q, store: store}
}

// RegisterRoutes registers the admin endpoints behind API-key auth.
func (h *AdminHandler) RegisterRoutes(router *Router) {
	mux := router.Mux()
	mux.HandleFunc("GET /whiteboard_tags/", router.Protected(h.handleWhiteboardTags))
	mux.HandleFunc("GET /jira_projects/", router.Protected(h.handleJiraProjects))
	mux.HandleFunc("GET /bugzilla_webhooks/", router.Protected(h.handleWebhooks))
	mux.HandleFunc("GET /dl_queue/", router.Protected(h.handleQueue))
}

func (h *AdminHandler) handleWhiteboardTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Registry().WhiteboardTags())
}

// handleJiraProjects lists the project keys visible to the configured
// credentials, not just the configured ones: operators use the diff to
// spot misconfigured actions.
func (h *AdminHandler) handleJiraProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.jira.Projects(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	keys := make([]string, 0, len(projects))
	for _, project := range projects {
		keys = append(keys, project.Key)
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *AdminHandler) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.bugzilla.ListWebhooks(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (h *AdminHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}
