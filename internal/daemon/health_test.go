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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/jira"
	"github.com/tombee/bugbridge/internal/steps"
)

type stubBugzillaHealth struct {
	loggedIn bool
	err      error
}

func (s *stubBugzillaHealth) LoggedIn(_ context.Context) (bool, error) {
	return s.loggedIn, s.err
}

type stubJiraHealth struct {
	serverErr error
	projects  []jira.Project
	missing   map[string][]string
}

func (s *stubJiraHealth) GetServerInfo(_ context.Context) (*jira.ServerInfo, error) {
	if s.serverErr != nil {
		return nil, s.serverErr
	}
	return &jira.ServerInfo{Version: "9.0.0"}, nil
}

func (s *stubJiraHealth) Projects(_ context.Context) ([]jira.Project, error) {
	return s.projects, nil
}

func (s *stubJiraHealth) MissingPermissions(_ context.Context, projectKey string) ([]string, error) {
	return s.missing[projectKey], nil
}

type stubQueueHealth struct {
	ready bool
}

func (s *stubQueueHealth) Ping(_ context.Context) bool {
	return s.ready
}

type fixedRegistry struct {
	registry *actions.Registry
}

func (f fixedRegistry) Registry() *actions.Registry { return f.registry }

func healthRegistry(t *testing.T) RegistrySource {
	t.Helper()
	registry, err := actions.Parse([]byte(`
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
`), steps.Known())
	require.NoError(t, err)
	return fixedRegistry{registry}
}

func heartbeat(t *testing.T, bz BugzillaHealth, j JiraHealth, q QueueHealth, store RegistrySource) (*httptest.ResponseRecorder, heartbeatChecks) {
	t.Helper()
	router := NewRouter(RouterConfig{Version: "test"}, discardLogger())
	NewHealthHandler(bz, j, q, store).RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/__heartbeat__", nil))

	var checks heartbeatChecks
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &checks))
	return w, checks
}

func TestHeartbeatHealthy(t *testing.T) {
	w, checks := heartbeat(t,
		&stubBugzillaHealth{loggedIn: true},
		&stubJiraHealth{projects: []jira.Project{{Key: "JBI"}}},
		&stubQueueHealth{ready: true},
		healthRegistry(t),
	)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, checks.healthy())
}

func TestHeartbeatReportsInvisibleProject(t *testing.T) {
	w, checks := heartbeat(t,
		&stubBugzillaHealth{loggedIn: true},
		&stubJiraHealth{projects: []jira.Project{{Key: "OTHER"}}},
		&stubQueueHealth{ready: true},
		healthRegistry(t),
	)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, checks.JiraUp)
	assert.False(t, checks.JiraProjectsVisible)
}

func TestHeartbeatReportsMissingPermissions(t *testing.T) {
	w, checks := heartbeat(t,
		&stubBugzillaHealth{loggedIn: true},
		&stubJiraHealth{
			projects: []jira.Project{{Key: "JBI"}},
			missing:  map[string][]string{"JBI": {"DELETE_ISSUES"}},
		},
		&stubQueueHealth{ready: true},
		healthRegistry(t),
	)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, checks.JiraPermissions)
}

func TestHeartbeatReportsQueueDown(t *testing.T) {
	w, checks := heartbeat(t,
		&stubBugzillaHealth{loggedIn: true},
		&stubJiraHealth{projects: []jira.Project{{Key: "JBI"}}},
		&stubQueueHealth{ready: false},
		healthRegistry(t),
	)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, checks.QueueReady)
}

func TestLBHeartbeat(t *testing.T) {
	router := NewRouter(RouterConfig{Version: "test"}, discardLogger())
	NewHealthHandler(
		&stubBugzillaHealth{}, &stubJiraHealth{}, &stubQueueHealth{}, healthRegistry(t),
	).RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/__lbheartbeat__", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVersionEndpoint(t *testing.T) {
	router := NewRouter(RouterConfig{Version: "1.2.3", Commit: "abc123"}, discardLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/__version__", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "1.2.3", doc["version"])
	assert.Equal(t, "abc123", doc["commit"])
}
