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

package steps

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/jira"
	"github.com/tombee/bugbridge/internal/runner"
)

const testBugzillaBase = "https://bugzilla.example.com"

type fakeBugzilla struct {
	bug      *bugzilla.Bug
	comments []bugzilla.Comment
	seeAlso  []string

	getBugErr error
}

func (f *fakeBugzilla) GetBug(_ context.Context, bugID int) (*bugzilla.Bug, error) {
	if f.getBugErr != nil {
		return nil, f.getBugErr
	}
	return f.bug, nil
}

func (f *fakeBugzilla) RefreshBug(_ context.Context, bug *bugzilla.Bug) (*bugzilla.Bug, error) {
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
	return fmt.Sprintf("%s/show_bug.cgi?id=%d", testBugzillaBase, bugID)
}

type remoteLink struct {
	issueKey string
	globalID string
	url      string
	title    string
	iconURL  string
}

type fakeJira struct {
	nextKey string
	users   []jira.User

	created     []map[string]any
	updates     map[string][]map[string]any
	comments    map[string][]string
	transitions map[string][]string
	remoteLinks []remoteLink
	deleted     []string

	createErr  error
	findErr    error
	commentErr error
}

func newFakeJira(nextKey string) *fakeJira {
	return &fakeJira{
		nextKey:     nextKey,
		updates:     map[string][]map[string]any{},
		comments:    map[string][]string{},
		transitions: map[string][]string{},
	}
}

func (f *fakeJira) CreateIssue(_ context.Context, fields map[string]any) (*jira.CreatedIssue, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
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
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	f.comments[issueKey] = append(f.comments[issueKey], body)
	return &jira.Comment{ID: "1", Body: body}, nil
}

func (f *fakeJira) SetIssueStatus(_ context.Context, issueKey, statusName string) error {
	f.transitions[issueKey] = append(f.transitions[issueKey], statusName)
	return nil
}

func (f *fakeJira) FindUsers(_ context.Context, _ string) ([]jira.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.users, nil
}

func (f *fakeJira) AddRemoteLink(_ context.Context, issueKey, globalID, linkURL, title, iconURL string) error {
	f.remoteLinks = append(f.remoteLinks, remoteLink{
		issueKey: issueKey,
		globalID: globalID,
		url:      linkURL,
		title:    title,
		iconURL:  iconURL,
	})
	return nil
}

func (f *fakeJira) DeleteIssue(_ context.Context, issueKey string) error {
	f.deleted = append(f.deleted, issueKey)
	return nil
}

func (f *fakeJira) IssueURL(issueKey string) string {
	return "https://example.atlassian.net/browse/" + issueKey
}

func testAction() *actions.Action {
	return &actions.Action{
		WhiteboardTag: "devtest",
		Enabled:       true,
		Parameters: actions.Params{
			JiraProjectKey:       "JBI",
			SyncWhiteboardLabels: true,
			IssueTypeMap:         map[string]string{"defect": "Bug", "enhancement": "Task"},
		},
	}
}

func testContext(bug *bugzilla.Bug, event *bugzilla.Event, op runner.Operation, bz *fakeBugzilla, j *fakeJira) *runner.ActionContext {
	action := testAction()
	return &runner.ActionContext{
		Bug:       bug,
		Event:     event,
		Operation: op,
		Jira: runner.JiraContext{
			Project: action.ProjectKey(),
			Issue:   bug.LinkedIssueKey(),
		},
		Action:   action,
		Extra:    map[string]string{},
		Services: runner.Services{Bugzilla: bz, Jira: j},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
