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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/runner"
)

// CreateComment mirrors the bug comment carried by the event onto the
// linked issue, quoting the original commenter. A no-op when the event
// carries no comment, the comment body is not visible, or no issue is
// linked yet.
func CreateComment(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	comment := actx.Bug.Comment
	if comment == nil {
		actx.Logger.Debug("event carries no comment, nothing to do")
		return actx, nil
	}
	if comment.Body == "" {
		actx.Logger.Info("comment body not visible, skipping",
			slog.Int("comment_id", comment.ID),
		)
		return actx, nil
	}
	if actx.Jira.Issue == "" {
		actx.Logger.Debug("no issue linked to bug, skipping comment",
			slog.Int(log.BugIDKey, actx.Bug.ID),
		)
		return actx, nil
	}

	body := fmt.Sprintf("*(%s)* commented: \n{quote}%s{quote}", commenter(actx), comment.Body)
	response, err := actx.Services.Jira.AddComment(ctx, actx.Jira.Issue, body)
	if err != nil {
		return actx, err
	}

	actx.Logger.Debug("comment mirrored",
		slog.String(log.IssueKeyKey, actx.Jira.Issue),
		slog.String(log.OperationKey, string(runner.OpComment)),
	)
	actx.AppendResponses(response)
	return actx, nil
}

// AddJiraCommentsForChanges posts one comment per tracked field change
// (assignee, status, resolution), rendered as indented JSON.
func AddJiraCommentsForChanges(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	user := commenter(actx)

	for _, change := range actx.Event.Changes {
		var payload map[string]any
		switch change.Field {
		case "assigned_to":
			payload = map[string]any{"assignee": change.Added}
		case "status", "resolution":
			payload = map[string]any{
				"modified by": user,
				change.Field:  fmt.Sprintf("%s -> %s", change.Removed, change.Added),
			}
		default:
			continue
		}

		rendered, err := json.MarshalIndent(payload, "", "    ")
		if err != nil {
			return actx, err
		}
		response, err := actx.Services.Jira.AddComment(ctx, actx.Jira.Issue, string(rendered))
		if err != nil {
			return actx, err
		}
		actx.AppendResponses(response)
	}

	return actx, nil
}

func commenter(actx *runner.ActionContext) string {
	if actx.Event.User != nil {
		return actx.Event.User.Login
	}
	return "unknown"
}
