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

package runner_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/jira"
	"github.com/tombee/bugbridge/internal/runner"
	"github.com/tombee/bugbridge/internal/steps"
	"github.com/tombee/bugbridge/pkg/errors"
)

const actionsYAML = `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
`

type fakeBugzilla struct {
	latest   *bugzilla.Bug
	comments []bugzilla.Comment
	seeAlso  []string
}

func (f *fakeBugzilla) GetBug(_ context.Context, _ int) (*bugzilla.Bug, error) {
	return f.latest, nil
}

func (f *fakeBugzilla) RefreshBug(_ context.Context, bug *bugzilla.Bug) (*bugzilla.Bug, error) {
	if f.latest != nil {
		return f.latest, nil
	}
	return bug, nil
}

func (f *fakeBugzilla) GetComments(_ context.Context, _ int) ([]bugzilla.Comment, error) {
	return f.comments, nil
}

func (f *fakeBugzilla) AddSeeAlso(_ context.Context, _ int, link string) error {
	f.seeAlso = append(f.seeAlso, link)
	return nil
}

func (f *fakeBugzilla) BugURL(bugID int) string {
	return fmt.Sprintf("https://bugzilla.example.com/show_bug.cgi?id=%d", bugID)
}

type fakeJira struct {
	nextKey string

	created     []map[string]any
	updates     map[string][]map[string]any
	comments    map[string][]string
	remoteLinks []string
	deleted     []string
}

func newFakeJira(nextKey string) *fakeJira {
	return &fakeJira{
		nextKey:  nextKey,
		updates:  map[string][]map[string]any{},
		comments: map[string][]string{},
	}
}

func (f *fakeJira) CreateIssue(_ context.Context, fields map[string]any) (*jira.CreatedIssue, error) {
	f.created = append(f.created, fields)
	return &jira.CreatedIssue{ID: "10000", Key: f.nextKey}, nil
}

func (f *fakeJira) GetIssue(_ context.Context, issueKey string) (*jira.Issue, error) {
	return &jira.Issue{Key: issueKey}, nil
}

func (f *fakeJira) UpdateIssueFields(_ context.Context, issueKey string, fields map[string]any) error {
	f.updates[issueKey] = append(f.updates[issueKey], fields)
	return nil
}

func (f *fakeJira) AddComment(_ context.Context, issueKey, body string) (*jira.Comment, error) {
	f.comments[issueKey] = append(f.comments[issueKey], body)
	return &jira.Comment{ID: "1", Body: body}, nil
}

func (f *fakeJira) SetIssueStatus(_ context.Context, _, _ string) error {
	return nil
}

func (f *fakeJira) FindUsers(_ context.Context, _ string) ([]jira.User, error) {
	return nil, nil
}

func (f *fakeJira) AddRemoteLink(_ context.Context, issueKey, _, _, _, _ string) error {
	f.remoteLinks = append(f.remoteLinks, issueKey)
	return nil
}

func (f *fakeJira) DeleteIssue(_ context.Context, issueKey string) error {
	f.deleted = append(f.deleted, issueKey)
	return nil
}

func (f *fakeJira) IssueURL(issueKey string) string {
	return "https://example.atlassian.net/browse/" + issueKey
}

func testRegistry(t *testing.T) *actions.Registry {
	t.Helper()
	registry, err := actions.Parse([]byte(actionsYAML), steps.Known())
	require.NoError(t, err)
	return registry
}

func testRunner(bz *fakeBugzilla, j *fakeJira) *runner.Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return runner.New(runner.Services{Bugzilla: bz, Jira: j}, steps.All(), nil, logger)
}

func request(bug *bugzilla.Bug, event *bugzilla.Event) *bugzilla.WebhookRequest {
	if event.Time.IsZero() {
		event.Time = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return &bugzilla.WebhookRequest{WebhookID: 1, Bug: bug, Event: event}
}

// A creation event for a tagged bug walks the whole default pipeline:
// create, duplicate check, both links, label sync.
func TestExecuteCreate(t *testing.T) {
	bug := &bugzilla.Bug{
		ID:         42,
		Summary:    "Crash on startup",
		Type:       "defect",
		Whiteboard: "[devtest]",
	}
	bz := &fakeBugzilla{
		// The refetch inside the duplicate check sees our own link.
		latest: &bugzilla.Bug{
			ID:      42,
			SeeAlso: []string{"https://example.atlassian.net/browse/JBI-100"},
		},
		comments: []bugzilla.Comment{{ID: 1, Text: "It crashes every time."}},
	}
	j := newFakeJira("JBI-100")

	result, err := testRunner(bz, j).Execute(context.Background(),
		request(bug, &bugzilla.Event{Action: "create", Target: "bug"}),
		testRegistry(t),
	)
	require.NoError(t, err)

	assert.True(t, result.Handled)
	assert.Equal(t, runner.OpCreate, result.Operation)
	assert.Equal(t, "devtest", result.Action)
	assert.Equal(t, "JBI-100", result.IssueKey)

	require.Len(t, j.created, 1)
	fields := j.created[0]
	assert.Equal(t, "Crash on startup", fields["summary"])
	assert.Equal(t, map[string]any{"name": "Bug"}, fields["issuetype"])
	assert.Equal(t, "It crashes every time.", fields["description"])
	assert.Equal(t, map[string]any{"key": "JBI"}, fields["project"])
	assert.Equal(t, []string{"bugzilla", "devtest", "[devtest]"}, fields["labels"])

	assert.Empty(t, j.deleted)
	assert.Equal(t, []string{"JBI-100"}, j.remoteLinks)
	assert.Equal(t, []string{"https://example.atlassian.net/browse/JBI-100"}, bz.seeAlso)
}

// When the refetched bug already links a different issue, the one we just
// created is deleted and no links are written.
func TestExecuteCreateDuplicateRollback(t *testing.T) {
	bug := &bugzilla.Bug{
		ID:         42,
		Summary:    "Crash on startup",
		Whiteboard: "[devtest]",
	}
	bz := &fakeBugzilla{
		latest: &bugzilla.Bug{
			ID:      42,
			SeeAlso: []string{"https://example.atlassian.net/browse/OTHER-1"},
		},
	}
	j := newFakeJira("JBI-100")

	result, err := testRunner(bz, j).Execute(context.Background(),
		request(bug, &bugzilla.Event{Action: "create", Target: "bug"}),
		testRegistry(t),
	)
	require.NoError(t, err)

	assert.True(t, result.Handled)
	assert.Equal(t, []string{"JBI-100"}, j.deleted)
	assert.Equal(t, "OTHER-1", result.IssueKey)
	assert.Empty(t, j.remoteLinks)
	assert.Empty(t, bz.seeAlso)
}

func TestExecuteUpdate(t *testing.T) {
	bug := &bugzilla.Bug{
		ID:         42,
		Summary:    "Crash on startup (still)",
		Whiteboard: "[devtest]",
		SeeAlso:    []string{"https://example.atlassian.net/browse/JBI-100"},
	}
	event := &bugzilla.Event{
		Action:  "modify",
		Target:  "bug",
		User:    &bugzilla.User{Login: "triager@example.com"},
		Changes: []bugzilla.EventChange{{Field: "summary", Added: "Crash on startup (still)"}},
	}
	bz := &fakeBugzilla{}
	j := newFakeJira("")

	result, err := testRunner(bz, j).Execute(context.Background(),
		request(bug, event), testRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, runner.OpUpdate, result.Operation)
	assert.Equal(t, "JBI-100", result.IssueKey)

	// update_issue_summary then sync_whiteboard_labels.
	updates := j.updates["JBI-100"]
	require.Len(t, updates, 2)
	assert.Equal(t, "Crash on startup (still)", updates[0]["summary"])
	assert.Equal(t, []string{"bugzilla", "devtest", "[devtest]"}, updates[1]["labels"])
}

// A comment event for a bug with no linked issue is still handled: the
// pipeline runs, the comment step finds nothing to post, responses stay
// empty.
func TestExecuteCommentWithoutLinkedIssue(t *testing.T) {
	bug := &bugzilla.Bug{
		ID:         42,
		Whiteboard: "[devtest]",
		Comment:    &bugzilla.WebhookComment{ID: 7, Body: "me too!"},
	}
	event := &bugzilla.Event{
		Action: "comment",
		Target: "comment",
		User:   &bugzilla.User{Login: "reporter@example.com"},
	}
	bz := &fakeBugzilla{}
	j := newFakeJira("")

	result, err := testRunner(bz, j).Execute(context.Background(),
		request(bug, event), testRegistry(t))
	require.NoError(t, err)

	assert.True(t, result.Handled)
	assert.Equal(t, runner.OpComment, result.Operation)
	assert.Empty(t, result.Responses)
	assert.Empty(t, j.comments)
}

func TestExecuteComment(t *testing.T) {
	bug := &bugzilla.Bug{
		ID:         42,
		Whiteboard: "[devtest]",
		SeeAlso:    []string{"https://example.atlassian.net/browse/JBI-100"},
		Comment:    &bugzilla.WebhookComment{ID: 7, Body: "me too!"},
	}
	event := &bugzilla.Event{
		Action: "comment",
		Target: "comment",
		User:   &bugzilla.User{Login: "reporter@example.com"},
	}
	bz := &fakeBugzilla{}
	j := newFakeJira("")

	result, err := testRunner(bz, j).Execute(context.Background(),
		request(bug, event), testRegistry(t))
	require.NoError(t, err)

	assert.True(t, result.Handled)
	require.Len(t, j.comments["JBI-100"], 1)
	assert.Equal(t,
		"*(reporter@example.com)* commented: \n{quote}me too!{quote}",
		j.comments["JBI-100"][0],
	)
}

func TestExecuteRejectsUnknownTarget(t *testing.T) {
	bug := &bugzilla.Bug{ID: 42, Whiteboard: "[devtest]"}
	event := &bugzilla.Event{Action: "modify", Target: "attachment"}

	_, err := testRunner(&fakeBugzilla{}, newFakeJira("")).Execute(context.Background(),
		request(bug, event), testRegistry(t))

	assert.True(t, errors.IsInvalidRequest(err))
}

func TestExecuteRejectsUntaggedBug(t *testing.T) {
	bug := &bugzilla.Bug{ID: 42, Whiteboard: "[unrelated]"}
	event := &bugzilla.Event{Action: "create", Target: "bug"}

	_, err := testRunner(&fakeBugzilla{}, newFakeJira("")).Execute(context.Background(),
		request(bug, event), testRegistry(t))

	require.True(t, errors.IsInvalidRequest(err))
	assert.True(t, errors.IsActionNotFound(err))
}

func TestExecuteRejectsPrivateBug(t *testing.T) {
	bug := &bugzilla.Bug{ID: 42, Whiteboard: "[devtest]", IsPrivate: true}
	event := &bugzilla.Event{Action: "create", Target: "bug"}
	bz := &fakeBugzilla{latest: bug}

	_, err := testRunner(bz, newFakeJira("")).Execute(context.Background(),
		request(bug, event), testRegistry(t))

	assert.True(t, errors.IsInvalidRequest(err))
}
