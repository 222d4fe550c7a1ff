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

// Package steps implements the named, idempotent units of work the
// pipeline composes actions from. Each step observes the prior effect of
// its own earlier runs (or tolerates repeating it) so that replaying a
// whole pipeline after a partial failure is safe.
package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/runner"
)

// descriptionLimit is the target tracker's maximum description length.
const descriptionLimit = 32767

// CreateIssue creates the target issue for a new bug: summary, issue type
// mapped from the bug type, the first comment as description, and the
// whiteboard labels when label syncing is on. The created key is recorded
// in the context for the steps that follow.
func CreateIssue(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	comments, err := actx.Services.Bugzilla.GetComments(ctx, actx.Bug.ID)
	if err != nil {
		return actx, err
	}

	description := ""
	if len(comments) > 0 {
		description = truncate(comments[0].Text, descriptionLimit)
	}

	fields := map[string]any{
		"summary":     actx.Bug.Summary,
		"issuetype":   map[string]any{"name": actx.Params().IssueTypeFor(actx.Bug.Type)},
		"description": description,
		"project":     map[string]any{"key": actx.Jira.Project},
	}
	if actx.Params().SyncWhiteboardLabels {
		fields["labels"] = actx.Bug.JiraLabels()
	}

	created, err := actx.Services.Jira.CreateIssue(ctx, fields)
	if err != nil {
		return actx, err
	}

	actx.Jira.Issue = created.Key
	actx.Logger.Info("issue created",
		slog.String(log.IssueKeyKey, created.Key),
		slog.String(log.OperationKey, string(runner.OpCreate)),
	)
	actx.AppendResponses(created)
	return actx, nil
}

// MaybeDeleteDuplicate re-reads the source bug after creation. If another
// issue key is already linked there, two create events raced: the issue
// this pipeline just created is the duplicate and is deleted, the context
// switches to the surviving key, and the pipeline stops. The survivor's
// links are already owned by the pipeline that won the race.
func MaybeDeleteDuplicate(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	latest, err := actx.Services.Bugzilla.GetBug(ctx, actx.Bug.ID)
	if err != nil {
		return actx, err
	}

	linked := latest.LinkedIssueKey()
	if linked == "" || linked == actx.Jira.Issue {
		return actx, nil
	}

	actx.Logger.Warn("duplicate issue detected, deleting ours",
		slog.String(log.IssueKeyKey, actx.Jira.Issue),
		slog.String("surviving_issue", linked),
		slog.String(log.OperationKey, string(runner.OpDelete)),
	)
	if err := actx.Services.Jira.DeleteIssue(ctx, actx.Jira.Issue); err != nil {
		return actx, err
	}

	actx.AppendResponses(map[string]any{"deleted": actx.Jira.Issue, "kept": linked})
	actx.Jira.Issue = linked
	return actx, runner.ErrStopPipeline
}

// AddLinkToBugzilla stores a remote link to the source bug on the target
// issue. The bug URL doubles as the link's global id, so replaying the
// step updates the existing link instead of adding another.
func AddLinkToBugzilla(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	bugURL := actx.Services.Bugzilla.BugURL(actx.Bug.ID)
	err := actx.Services.Jira.AddRemoteLink(ctx, actx.Jira.Issue,
		bugURL,
		bugURL,
		fmt.Sprintf("Bug %d", actx.Bug.ID),
		faviconURL(bugURL),
	)
	if err != nil {
		return actx, err
	}

	actx.Logger.Debug("remote link stored",
		slog.String(log.IssueKeyKey, actx.Jira.Issue),
		slog.String(log.OperationKey, string(runner.OpLink)),
	)
	actx.AppendResponses(map[string]any{"remote_link": bugURL})
	return actx, nil
}

// AddLinkToJira stores the target issue URL in the source bug's see_also
// field. The tracker deduplicates see_also entries, keeping this
// idempotent.
func AddLinkToJira(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	issueURL := actx.Services.Jira.IssueURL(actx.Jira.Issue)
	if err := actx.Services.Bugzilla.AddSeeAlso(ctx, actx.Bug.ID, issueURL); err != nil {
		return actx, err
	}

	actx.Logger.Debug("see_also link stored",
		slog.Int(log.BugIDKey, actx.Bug.ID),
		slog.String(log.OperationKey, string(runner.OpLink)),
	)
	actx.AppendResponses(map[string]any{"see_also": issueURL})
	return actx, nil
}

// SyncWhiteboardLabels mirrors the bug's whiteboard tags onto the issue's
// labels. A no-op when label syncing is off for this action.
func SyncWhiteboardLabels(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	if !actx.Params().SyncWhiteboardLabels {
		return actx, nil
	}

	fields := map[string]any{"labels": actx.Bug.JiraLabels()}
	if err := actx.Services.Jira.UpdateIssueFields(ctx, actx.Jira.Issue, fields); err != nil {
		return actx, err
	}

	actx.AppendResponses(map[string]any{"labels": actx.Bug.JiraLabels()})
	return actx, nil
}

// UpdateIssueSummary copies the bug summary onto the issue.
func UpdateIssueSummary(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	fields := map[string]any{"summary": actx.Bug.Summary}
	if err := actx.Services.Jira.UpdateIssueFields(ctx, actx.Jira.Issue, fields); err != nil {
		return actx, err
	}

	actx.AppendResponses(map[string]any{"summary": actx.Bug.Summary})
	return actx, nil
}

// UpdateIssue copies both summary and (when syncing is on) labels.
func UpdateIssue(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	fields := map[string]any{"summary": actx.Bug.Summary}
	if actx.Params().SyncWhiteboardLabels {
		fields["labels"] = actx.Bug.JiraLabels()
	}
	if err := actx.Services.Jira.UpdateIssueFields(ctx, actx.Jira.Issue, fields); err != nil {
		return actx, err
	}

	actx.AppendResponses(fields)
	return actx, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// faviconURL points at the source tracker's favicon, shown next to the
// remote link.
func faviconURL(bugURL string) string {
	// bugURL is "<base>/show_bug.cgi?id=N".
	for i := len(bugURL) - 1; i >= 0; i-- {
		if bugURL[i] == '/' {
			return bugURL[:i] + "/favicon.ico"
		}
	}
	return ""
}
