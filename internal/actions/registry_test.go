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

package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/pkg/errors"
)

var testKnownSteps = map[string]bool{
	"create_issue":                  true,
	"maybe_delete_duplicate":        true,
	"add_link_to_bugzilla":          true,
	"add_link_to_jira":              true,
	"sync_whiteboard_labels":        true,
	"update_issue_summary":          true,
	"add_jira_comments_for_changes": true,
	"create_comment":                true,
}

func parseRegistry(t *testing.T, raw string) *Registry {
	t.Helper()
	registry, err := Parse([]byte(raw), testKnownSteps)
	require.NoError(t, err)
	return registry
}

func TestParseMinimalAction(t *testing.T) {
	registry := parseRegistry(t, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
`)

	require.Len(t, registry.All(), 1)
	action := registry.All()[0]
	assert.Equal(t, "devtest", action.WhiteboardTag)
	assert.Equal(t, "JBI", action.ProjectKey())
	assert.True(t, action.Enabled)
	assert.True(t, action.Parameters.SyncWhiteboardLabels)
	assert.False(t, action.AllowPrivate())
}

func TestParseDefaultStepLists(t *testing.T) {
	registry := parseRegistry(t, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
      steps:
        comment: []
`)

	params := registry.All()[0].Parameters
	assert.Equal(t, []string{
		"create_issue",
		"maybe_delete_duplicate",
		"add_link_to_bugzilla",
		"add_link_to_jira",
		"sync_whiteboard_labels",
	}, params.StepsFor(GroupNew))
	assert.Equal(t, []string{
		"update_issue_summary",
		"sync_whiteboard_labels",
		"add_jira_comments_for_changes",
	}, params.StepsFor(GroupExisting))

	// Explicitly empty group overrides the default.
	assert.Empty(t, params.StepsFor(GroupComment))
}

func TestParseRejectsUnknownStepGroup(t *testing.T) {
	_, err := Parse([]byte(`
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
      steps:
        deleted: [create_issue]
`), testKnownSteps)
	require.Error(t, err)

	var configErr *errors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Reason, `"deleted"`)
}

func TestParseRejectsUnknownStepName(t *testing.T) {
	_, err := Parse([]byte(`
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
      steps:
        new: [create_issue, launch_missiles]
`), testKnownSteps)
	require.Error(t, err)

	var configErr *errors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Reason, `"launch_missiles"`)
}

func TestParseRejectsDuplicateTags(t *testing.T) {
	_, err := Parse([]byte(`
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
  - whiteboard_tag: DevTest
    parameters:
      jira_project_key: OPS
`), testKnownSteps)
	require.Error(t, err)

	var configErr *errors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Reason, "duplicate")
}

func TestParseRejectsMissingProjectKey(t *testing.T) {
	_, err := Parse([]byte(`
actions:
  - whiteboard_tag: devtest
`), testKnownSteps)
	require.Error(t, err)
}

func TestParseRejectsEmptyFile(t *testing.T) {
	_, err := Parse([]byte("actions: []\n"), testKnownSteps)
	require.Error(t, err)
}

func TestParseRetainsUnknownParameters(t *testing.T) {
	registry := parseRegistry(t, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
      custom_threshold: 5
`)

	params := registry.All()[0].Parameters
	require.Contains(t, params.Extra, "custom_threshold")
	assert.Equal(t, 5, params.Extra["custom_threshold"])
}

func TestLookupAction(t *testing.T) {
	registry := parseRegistry(t, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
  - whiteboard_tag: "[ops]"
    parameters:
      jira_project_key: OPS
`)

	tests := []struct {
		name       string
		whiteboard string
		wantKey    string
		wantErr    bool
	}{
		{"bare match", "[devtest]", "JBI", false},
		{"case insensitive", "[DevTest]", "JBI", false},
		{"bracketed config tag", "[ops]", "OPS", false},
		{"first tag wins", "[ops] [devtest]", "OPS", false},
		{"no match", "[unknown]", "", true},
		{"empty whiteboard", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bug := &bugzilla.Bug{Whiteboard: tt.whiteboard}
			action, err := registry.LookupAction(bug)
			if tt.wantErr {
				require.Error(t, err)
				var notFound *errors.ActionNotFoundError
				assert.ErrorAs(t, err, &notFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, action.ProjectKey())
		})
	}
}

func TestLookupSkipsDisabledActions(t *testing.T) {
	registry := parseRegistry(t, `
actions:
  - whiteboard_tag: devtest
    enabled: false
    parameters:
      jira_project_key: JBI
`)

	_, err := registry.LookupAction(&bugzilla.Bug{Whiteboard: "[devtest]"})
	require.Error(t, err)
	assert.True(t, errors.IsActionNotFound(err))
}

func TestRegistryListings(t *testing.T) {
	registry := parseRegistry(t, `
actions:
  - whiteboard_tag: ops
    parameters:
      jira_project_key: OPS
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
  - whiteboard_tag: devtest2
    parameters:
      jira_project_key: JBI
`)

	assert.Equal(t, []string{"devtest", "devtest2", "ops"}, registry.WhiteboardTags())
	assert.Equal(t, []string{"JBI", "OPS"}, registry.ProjectKeys())
}

func TestIssueTypeFor(t *testing.T) {
	registry := parseRegistry(t, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
`)

	params := registry.All()[0].Parameters
	assert.Equal(t, "Bug", params.IssueTypeFor("defect"))
	assert.Equal(t, "Task", params.IssueTypeFor("enhancement"))
	assert.Equal(t, "Task", params.IssueTypeFor("unmapped"))
}
