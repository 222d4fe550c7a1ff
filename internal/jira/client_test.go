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

package jira

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/bugbridge/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(srv.URL, "bridge@example.com", "token", logger)
	require.NoError(t, err)
	return client
}

func TestCreateIssue(t *testing.T) {
	var gotFields map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/2/issue", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bridge@example.com", user)
		assert.Equal(t, "token", pass)

		var body struct {
			Fields map[string]any `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotFields = body.Fields

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "10001", "key": "JBI-1"})
	}))

	created, err := client.CreateIssue(context.Background(), map[string]any{
		"summary": "crash on startup",
		"project": map[string]any{"key": "JBI"},
	})
	require.NoError(t, err)
	assert.Equal(t, "JBI-1", created.Key)
	assert.Equal(t, "crash on startup", gotFields["summary"])
}

func TestCreateIssueEnvelopeErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": map[string]string{"issuetype": "The issue type is invalid."},
		})
	}))

	_, err := client.CreateIssue(context.Background(), map[string]any{})
	require.Error(t, err)

	var createErr *errors.CreateError
	require.ErrorAs(t, err, &createErr)
	assert.Contains(t, createErr.Errors, "issuetype")
}

func TestGetIssueAbsent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"errorMessages": []string{"Issue does not exist"}})
	}))

	issue, err := client.GetIssue(context.Background(), "JBI-404")
	require.NoError(t, err)
	assert.Nil(t, issue)
}

func TestSetIssueStatus(t *testing.T) {
	var transitioned string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"transitions": []map[string]any{
					{"id": "11", "name": "Start Progress", "to": map[string]any{"name": "In Progress"}},
					{"id": "31", "name": "Close", "to": map[string]any{"name": "Done"}},
				},
			})
		case http.MethodPost:
			var body struct {
				Transition struct {
					ID string `json:"id"`
				} `json:"transition"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			transitioned = body.Transition.ID
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	require.NoError(t, client.SetIssueStatus(context.Background(), "JBI-1", "done"))
	assert.Equal(t, "31", transitioned)
}

func TestSetIssueStatusNoTransition(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"transitions": []any{}})
	}))

	err := client.SetIssueStatus(context.Background(), "JBI-1", "Done")
	require.Error(t, err)

	var clientErr *errors.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Contains(t, clientErr.Message, "no transition")
}

func TestAddRemoteLink(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/JBI-1/remotelink", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 10000})
	}))

	err := client.AddRemoteLink(context.Background(), "JBI-1", "bugzilla-42",
		"https://bugzilla.mozilla.org/show_bug.cgi?id=42", "Bug 42",
		"https://bugzilla.mozilla.org/favicon.ico")
	require.NoError(t, err)

	assert.Equal(t, "bugzilla-42", gotBody["globalId"])
	object := gotBody["object"].(map[string]any)
	assert.Equal(t, "https://bugzilla.mozilla.org/show_bug.cgi?id=42", object["url"])
}

func TestDeleteIssueAbsentIsNoError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.NoError(t, client.DeleteIssue(context.Background(), "JBI-404"))
}

func TestProjectsPagination(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/project/search", r.URL.Path)
		if r.URL.Query().Get("startAt") == "0" {
			json.NewEncoder(w).Encode(map[string]any{
				"values": []map[string]any{{"id": "1", "key": "JBI", "name": "Bridge"}},
				"isLast": false,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"values": []map[string]any{{"id": "2", "key": "OPS", "name": "Operations"}},
			"isLast": true,
		})
	}))

	projects, err := client.Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "JBI", projects[0].Key)
	assert.Equal(t, "OPS", projects[1].Key)
}

func TestMissingPermissions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "JBI", r.URL.Query().Get("projectKey"))
		json.NewEncoder(w).Encode(map[string]any{
			"permissions": map[string]any{
				"ADD_COMMENTS":  map[string]any{"havePermission": true},
				"CREATE_ISSUES": map[string]any{"havePermission": true},
				"DELETE_ISSUES": map[string]any{"havePermission": false},
				"EDIT_ISSUES":   map[string]any{"havePermission": true},
			},
		})
	}))

	missing, err := client.MissingPermissions(context.Background(), "JBI")
	require.NoError(t, err)
	assert.Equal(t, []string{"DELETE_ISSUES"}, missing)
}

func TestIssueURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient("https://mozilla.atlassian.net/", "u", "k", logger)
	require.NoError(t, err)
	assert.Equal(t, "https://mozilla.atlassian.net/browse/JBI-1", client.IssueURL("JBI-1"))
}
