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

// Package actions loads and resolves the configured synchronization
// actions. Each action is keyed by a whiteboard tag and bundles the
// parameters and step lists that drive the pipeline.
package actions

import (
	"gopkg.in/yaml.v3"
)

// Operation groups an action's step lists are keyed by.
const (
	GroupNew      = "new"
	GroupExisting = "existing"
	GroupComment  = "comment"
)

// validGroups is the closed set of step group keys.
var validGroups = map[string]bool{
	GroupNew:      true,
	GroupExisting: true,
	GroupComment:  true,
}

// defaultSteps are the step lists used when a group is not configured.
var defaultSteps = map[string][]string{
	GroupNew: {
		"create_issue",
		"maybe_delete_duplicate",
		"add_link_to_bugzilla",
		"add_link_to_jira",
		"sync_whiteboard_labels",
	},
	GroupExisting: {
		"update_issue_summary",
		"sync_whiteboard_labels",
		"add_jira_comments_for_changes",
	},
	GroupComment: {
		"create_comment",
	},
}

// defaultIssueTypeMap translates source bug types into target issue types.
var defaultIssueTypeMap = map[string]string{
	"defect":      "Bug",
	"enhancement": "Task",
	"task":        "Task",
}

// knownParamKeys are the parameter keys consumed by the step library.
// Anything else is preserved verbatim in Params.Extra.
var knownParamKeys = map[string]bool{
	"jira_project_key":       true,
	"sync_whiteboard_labels": true,
	"status_map":             true,
	"resolution_map":         true,
	"issue_type_map":         true,
	"jira_components":        true,
	"allow_private":          true,
	"steps":                  true,
}

// JiraComponents configures the components set on target issues.
type JiraComponents struct {
	// UseBugComponent mirrors the bug's component name.
	UseBugComponent bool `yaml:"use_bug_component"`

	// UseBugProduct mirrors the bug's product name.
	UseBugProduct bool `yaml:"use_bug_product"`

	// UseBugComponentWithProductPrefix mirrors "product::component".
	UseBugComponentWithProductPrefix bool `yaml:"use_bug_component_with_product_prefix"`

	// SetCustomComponents is a fixed list of component names.
	SetCustomComponents []string `yaml:"set_custom_components"`
}

// Params is the per-action configuration consumed by steps.
type Params struct {
	JiraProjectKey       string              `yaml:"jira_project_key"`
	SyncWhiteboardLabels bool                `yaml:"sync_whiteboard_labels"`
	StatusMap            map[string]string   `yaml:"status_map"`
	ResolutionMap        map[string]string   `yaml:"resolution_map"`
	IssueTypeMap         map[string]string   `yaml:"issue_type_map"`
	JiraComponents       JiraComponents      `yaml:"jira_components"`
	AllowPrivate         bool                `yaml:"allow_private"`
	Steps                map[string][]string `yaml:"steps"`

	// Extra holds unrecognized parameter keys. They are carried into the
	// action context untouched.
	Extra map[string]any `yaml:"-"`
}

// UnmarshalYAML applies defaults and captures unknown keys.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	type rawParams Params
	raw := rawParams{SyncWhiteboardLabels: true}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.IssueTypeMap == nil {
		raw.IssueTypeMap = defaultIssueTypeMap
	}
	*p = Params(raw)

	var all map[string]any
	if err := node.Decode(&all); err != nil {
		return err
	}
	for key := range all {
		if knownParamKeys[key] {
			delete(all, key)
		}
	}
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}

// StepsFor returns the configured step list for a group, falling back to
// the default list when the group is not configured.
func (p *Params) StepsFor(group string) []string {
	if steps, ok := p.Steps[group]; ok {
		return steps
	}
	return defaultSteps[group]
}

// IssueTypeFor maps a source bug type to a target issue type name.
func (p *Params) IssueTypeFor(bugType string) string {
	if issueType, ok := p.IssueTypeMap[bugType]; ok {
		return issueType
	}
	return "Task"
}

// Action is one configured translation policy.
type Action struct {
	// WhiteboardTag selects this action; matched case-insensitively
	// against a bug's whiteboard tags.
	WhiteboardTag string `yaml:"whiteboard_tag"`

	// Description documents the action for operators.
	Description string `yaml:"description"`

	// BugzillaUserID records the contact for this action's configuration.
	BugzillaUserID int `yaml:"bugzilla_user_id"`

	// Enabled actions participate in lookup. Defaults to true.
	Enabled bool `yaml:"enabled"`

	Parameters Params `yaml:"parameters"`
}

// UnmarshalYAML applies the enabled-by-default rule.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	type rawAction Action
	raw := rawAction{Enabled: true}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*a = Action(raw)
	return nil
}

// ProjectKey is the target project this action creates issues in.
func (a *Action) ProjectKey() string {
	return a.Parameters.JiraProjectKey
}

// AllowPrivate reports whether private bugs may be synchronized.
func (a *Action) AllowPrivate() bool {
	return a.Parameters.AllowPrivate
}
