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
	"github.com/tombee/bugbridge/internal/runner"
)

// All maps configured step names to their implementations. Action
// configuration is validated against this table at load time, so an
// unknown name fails loudly before the daemon starts.
func All() map[string]runner.StepFunc {
	return map[string]runner.StepFunc{
		"create_issue":                  CreateIssue,
		"maybe_delete_duplicate":        MaybeDeleteDuplicate,
		"add_link_to_bugzilla":          AddLinkToBugzilla,
		"add_link_to_jira":              AddLinkToJira,
		"sync_whiteboard_labels":        SyncWhiteboardLabels,
		"update_issue_summary":          UpdateIssueSummary,
		"update_issue":                  UpdateIssue,
		"create_comment":                CreateComment,
		"add_jira_comments_for_changes": AddJiraCommentsForChanges,
		"maybe_assign_jira_user":        MaybeAssignJiraUser,
		"maybe_update_issue_status":     MaybeUpdateIssueStatus,
		"maybe_update_issue_resolution": MaybeUpdateIssueResolution,
		"maybe_update_components":       MaybeUpdateComponents,
	}
}

// Known lists the step names for configuration validation.
func Known() map[string]bool {
	known := map[string]bool{}
	for name := range All() {
		known[name] = true
	}
	return known
}
