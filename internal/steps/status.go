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
	"log/slog"
	"slices"

	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/runner"
)

// MaybeAssignJiraUser keeps the issue assignee in sync with the bug's
// assignee. On create the assignee is set when the email resolves to
// exactly one account. On update the step only acts when assigned_to
// changed; a lookup failure then degrades to clearing the assignee
// rather than leaving a stale one.
func MaybeAssignJiraUser(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	switch actx.Operation {
	case runner.OpCreate:
		if !actx.Bug.IsAssigned() {
			return actx, nil
		}
		if err := assignUser(ctx, actx, actx.Bug.AssignedTo); err != nil {
			actx.Logger.Info("unable to resolve assignee, leaving unset",
				slog.String("assignee", actx.Bug.AssignedTo),
				log.Error(err),
			)
		}
		return actx, nil

	case runner.OpUpdate:
		if !slices.Contains(actx.Event.ChangedFields(), "assigned_to") {
			return actx, nil
		}
		if !actx.Bug.IsAssigned() {
			return actx, clearAssignee(ctx, actx)
		}
		if err := assignUser(ctx, actx, actx.Bug.AssignedTo); err != nil {
			actx.Logger.Info("unable to resolve new assignee, clearing",
				slog.String("assignee", actx.Bug.AssignedTo),
				log.Error(err),
			)
			return actx, clearAssignee(ctx, actx)
		}
		return actx, nil

	default:
		return actx, nil
	}
}

func assignUser(ctx context.Context, actx *runner.ActionContext, email string) error {
	users, err := actx.Services.Jira.FindUsers(ctx, email)
	if err != nil {
		return err
	}
	if len(users) != 1 {
		return fmt.Errorf("expected exactly one account for %q, found %d", email, len(users))
	}

	fields := map[string]any{"assignee": map[string]any{"accountId": users[0].AccountID}}
	if err := actx.Services.Jira.UpdateIssueFields(ctx, actx.Jira.Issue, fields); err != nil {
		return err
	}
	actx.AppendResponses(map[string]any{"assignee": users[0].AccountID})
	return nil
}

func clearAssignee(ctx context.Context, actx *runner.ActionContext) error {
	fields := map[string]any{"assignee": nil}
	if err := actx.Services.Jira.UpdateIssueFields(ctx, actx.Jira.Issue, fields); err != nil {
		return err
	}
	actx.AppendResponses(map[string]any{"assignee": nil})
	return nil
}

// MaybeUpdateIssueStatus transitions the issue per the action's
// status_map. The map key is the bug resolution when set, else the bug
// status; unmapped values are logged and skipped. On update the step
// only acts when status or resolution changed.
func MaybeUpdateIssueStatus(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	key := actx.Bug.Status
	if actx.Bug.Resolution != "" {
		key = actx.Bug.Resolution
	}

	target, mapped := actx.Params().StatusMap[key]
	if !mapped {
		actx.Logger.Debug("status map has no entry, skipping",
			slog.String("bug_status", key),
		)
		return actx, nil
	}

	if actx.Operation == runner.OpUpdate {
		changed := actx.Event.ChangedFields()
		if !slices.Contains(changed, "status") && !slices.Contains(changed, "resolution") {
			return actx, nil
		}
	} else if actx.Operation != runner.OpCreate {
		return actx, nil
	}

	if err := actx.Services.Jira.SetIssueStatus(ctx, actx.Jira.Issue, target); err != nil {
		return actx, err
	}

	actx.Logger.Info("issue status updated",
		slog.String(log.IssueKeyKey, actx.Jira.Issue),
		slog.String("status", target),
	)
	actx.AppendResponses(map[string]any{"status": target})
	return actx, nil
}

// MaybeUpdateIssueResolution sets the issue resolution per the action's
// resolution_map, triggered on create or on a resolution change.
func MaybeUpdateIssueResolution(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	target, mapped := actx.Params().ResolutionMap[actx.Bug.Resolution]
	if !mapped {
		actx.Logger.Debug("resolution map has no entry, skipping",
			slog.String("bug_resolution", actx.Bug.Resolution),
		)
		return actx, nil
	}

	if actx.Operation == runner.OpUpdate && !slices.Contains(actx.Event.ChangedFields(), "resolution") {
		return actx, nil
	}
	if actx.Operation != runner.OpCreate && actx.Operation != runner.OpUpdate {
		return actx, nil
	}

	fields := map[string]any{"resolution": map[string]any{"name": target}}
	if err := actx.Services.Jira.UpdateIssueFields(ctx, actx.Jira.Issue, fields); err != nil {
		return actx, err
	}

	actx.AppendResponses(map[string]any{"resolution": target})
	return actx, nil
}

// MaybeUpdateComponents sets issue components from the action's
// jira_components configuration: the bug's component, product, or
// product-prefixed component, plus any fixed custom names.
func MaybeUpdateComponents(ctx context.Context, actx *runner.ActionContext) (*runner.ActionContext, error) {
	cfg := actx.Params().JiraComponents

	var names []string
	if cfg.UseBugComponent && actx.Bug.Component != "" {
		names = append(names, actx.Bug.Component)
	}
	if cfg.UseBugProduct && actx.Bug.Product != "" {
		names = append(names, actx.Bug.Product)
	}
	if cfg.UseBugComponentWithProductPrefix && actx.Bug.ProductComponent() != "" {
		names = append(names, actx.Bug.ProductComponent())
	}
	names = append(names, cfg.SetCustomComponents...)

	if len(names) == 0 {
		return actx, nil
	}

	components := make([]map[string]any, 0, len(names))
	for _, name := range names {
		components = append(components, map[string]any{"name": name})
	}

	if err := actx.Services.Jira.UpdateIssueFields(ctx, actx.Jira.Issue, map[string]any{"components": components}); err != nil {
		return actx, err
	}

	actx.AppendResponses(map[string]any{"components": names})
	return actx, nil
}
