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

// Package runner classifies webhook requests into operations and drives
// the step pipeline that projects them onto the target tracker.
package runner

import (
	"context"
	"log/slog"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/jira"
)

// Operation is the logical classification of a webhook request.
// The first four drive step dispatch; the rest only tag log entries.
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpComment Operation = "comment"
	OpIgnore  Operation = "ignore"

	OpHandle  Operation = "handle"
	OpExecute Operation = "execute"
	OpSuccess Operation = "success"
	OpLink    Operation = "link"
	OpDelete  Operation = "delete"
)

// BugzillaService is the slice of the source-tracker client the runner
// and steps consume.
type BugzillaService interface {
	GetBug(ctx context.Context, bugID int) (*bugzilla.Bug, error)
	RefreshBug(ctx context.Context, bug *bugzilla.Bug) (*bugzilla.Bug, error)
	GetComments(ctx context.Context, bugID int) ([]bugzilla.Comment, error)
	AddSeeAlso(ctx context.Context, bugID int, link string) error
	BugURL(bugID int) string
}

// JiraService is the slice of the target-tracker client the steps consume.
type JiraService interface {
	CreateIssue(ctx context.Context, fields map[string]any) (*jira.CreatedIssue, error)
	GetIssue(ctx context.Context, issueKey string) (*jira.Issue, error)
	UpdateIssueFields(ctx context.Context, issueKey string, fields map[string]any) error
	AddComment(ctx context.Context, issueKey, body string) (*jira.Comment, error)
	SetIssueStatus(ctx context.Context, issueKey, statusName string) error
	FindUsers(ctx context.Context, query string) ([]jira.User, error)
	AddRemoteLink(ctx context.Context, issueKey, globalID, linkURL, title, iconURL string) error
	DeleteIssue(ctx context.Context, issueKey string) error
	IssueURL(issueKey string) string
}

// Services bundles the tracker clients handed to every step.
type Services struct {
	Bugzilla BugzillaService
	Jira     JiraService
}

// JiraContext tracks the target-tracker side of one invocation.
type JiraContext struct {
	// Project is the target project key from the action configuration.
	Project string `json:"project"`

	// Issue is the linked issue key, set during classification for
	// updates and by create_issue for creations. Empty when no issue
	// is associated yet.
	Issue string `json:"issue,omitempty"`
}

// ActionContext is the mutable record threaded through the pipeline.
// It has a single owner for the duration of one execution and is never
// shared across requests.
type ActionContext struct {
	Bug       *bugzilla.Bug
	Event     *bugzilla.Event
	Operation Operation
	Jira      JiraContext
	Action    *actions.Action

	// Extra carries free-form context: unknown action parameters and
	// the changed-fields summary attached on updates.
	Extra map[string]string

	// Responses accumulates the opaque tracker responses returned by
	// steps, reported back to the webhook sender.
	Responses []any

	Services Services
	Logger   *slog.Logger
}

// Params is a shorthand for the action's parameters.
func (c *ActionContext) Params() *actions.Params {
	return &c.Action.Parameters
}

// AppendResponses records step responses in execution order.
func (c *ActionContext) AppendResponses(responses ...any) {
	c.Responses = append(c.Responses, responses...)
}
