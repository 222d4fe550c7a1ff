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

	"github.com/tombee/bugbridge/internal/jira"
)

// BugzillaHealth is the source-tracker surface the heartbeat consumes.
type BugzillaHealth interface {
	LoggedIn(ctx context.Context) (bool, error)
}

// JiraHealth is the target-tracker surface the heartbeat consumes.
type JiraHealth interface {
	GetServerInfo(ctx context.Context) (*jira.ServerInfo, error)
	Projects(ctx context.Context) ([]jira.Project, error)
	MissingPermissions(ctx context.Context, projectKey string) ([]string, error)
}

// QueueHealth proves the queue storage is usable.
type QueueHealth interface {
	Ping(ctx context.Context) bool
}

// HealthHandler serves the Dockerflow-style probes: a deep heartbeat
// exercising both trackers and the queue, and a shallow one for the load
// balancer.
type HealthHandler struct {
	bugzilla BugzillaHealth
	jira     JiraHealth
	queue    QueueHealth
	store    RegistrySource
}

// NewHealthHandler builds the probe handler.
func NewHealthHandler(bz BugzillaHealth, j JiraHealth, q QueueHealth, store RegistrySource) *HealthHandler {
	return &HealthHandler{bugzilla: bz, jira: j, queue: q, store: store}
}

// RegisterRoutes registers the probes; they are unauthenticated.
// GET patterns also answer HEAD, which the load balancer uses.
func (h *HealthHandler) RegisterRoutes(router *Router) {
	mux := router.Mux()
	mux.HandleFunc("GET /__heartbeat__", h.handleHeartbeat)
	mux.HandleFunc("GET /__lbheartbeat__", h.handleLBHeartbeat)
}

type heartbeatChecks struct {
	BugzillaUp          bool `json:"bugzilla.up"`
	JiraUp              bool `json:"jira.up"`
	JiraProjectsVisible bool `json:"jira.all_projects_are_visible"`
	JiraPermissions     bool `json:"jira.all_project_permissions"`
	QueueReady          bool `json:"queue.ready"`
}

func (c heartbeatChecks) healthy() bool {
	return c.BugzillaUp && c.JiraUp && c.JiraProjectsVisible && c.JiraPermissions && c.QueueReady
}

// handleHeartbeat verifies the configured credentials can reach both
// trackers, that every configured project is visible with the required
// permissions, and that the queue storage accepts writes.
func (h *HealthHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := heartbeatChecks{QueueReady: h.queue.Ping(ctx)}

	if loggedIn, err := h.bugzilla.LoggedIn(ctx); err == nil {
		checks.BugzillaUp = loggedIn
	}
	if _, err := h.jira.GetServerInfo(ctx); err == nil {
		checks.JiraUp = true
	}

	if checks.JiraUp {
		checks.JiraProjectsVisible, checks.JiraPermissions = h.checkProjects(ctx)
	}

	status := http.StatusOK
	if !checks.healthy() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, checks)
}

func (h *HealthHandler) checkProjects(ctx context.Context) (visible, permitted bool) {
	required := h.store.Registry().ProjectKeys()

	projects, err := h.jira.Projects(ctx)
	if err != nil {
		return false, false
	}
	known := make(map[string]bool, len(projects))
	for _, project := range projects {
		known[project.Key] = true
	}

	visible, permitted = true, true
	for _, key := range required {
		if !known[key] {
			visible = false
			continue
		}
		missing, err := h.jira.MissingPermissions(ctx, key)
		if err != nil || len(missing) > 0 {
			permitted = false
		}
	}
	return visible, permitted
}

// handleLBHeartbeat answers the load balancer without touching any
// dependency.
func (h *HealthHandler) handleLBHeartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
