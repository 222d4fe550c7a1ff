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

package bugzilla

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBugTags(t *testing.T) {
	tests := []struct {
		name       string
		whiteboard string
		want       []string
	}{
		{
			name:       "single tag",
			whiteboard: "[devtest]",
			want:       []string{"devtest", "[devtest]"},
		},
		{
			name:       "multiple tags keep order",
			whiteboard: "[devtest] [other]",
			want:       []string{"devtest", "other", "[devtest]", "[other]"},
		},
		{
			name:       "spaces become dots",
			whiteboard: "[dev test]",
			want:       []string{"dev.test", "[dev.test]"},
		},
		{
			name:       "case folded",
			whiteboard: "[DevTest]",
			want:       []string{"devtest", "[devtest]"},
		},
		{
			name:       "unbracketed text ignored",
			whiteboard: "triaged [devtest]",
			want:       []string{"devtest", "[devtest]"},
		},
		{
			name:       "empty whiteboard",
			whiteboard: "",
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bug := &Bug{Whiteboard: tt.whiteboard}
			assert.Equal(t, tt.want, bug.Tags())
		})
	}
}

// Extracting tags from a whiteboard rebuilt out of its own bracketed tags
// yields the same tag set.
func TestBugTagsRoundTrip(t *testing.T) {
	whiteboards := []string{
		"[devtest]",
		"[a] [b] [c]",
		"noise [dev test] more noise [x]",
	}

	for _, whiteboard := range whiteboards {
		first := (&Bug{Whiteboard: whiteboard}).Tags()

		var bracketed []string
		for _, tag := range first {
			if strings.HasPrefix(tag, "[") {
				bracketed = append(bracketed, tag)
			}
		}
		rendered := strings.Join(bracketed, " ")

		second := (&Bug{Whiteboard: rendered}).Tags()
		assert.Equal(t, first, second, "whiteboard %q", whiteboard)
	}
}

func TestBugJiraLabels(t *testing.T) {
	bug := &Bug{Whiteboard: "[devtest]"}
	assert.Equal(t, []string{"bugzilla", "devtest", "[devtest]"}, bug.JiraLabels())

	empty := &Bug{}
	assert.Equal(t, []string{"bugzilla"}, empty.JiraLabels())
}

func TestBugLinkedIssueKey(t *testing.T) {
	tests := []struct {
		name    string
		seeAlso []string
		want    string
	}{
		{
			name:    "atlassian browse URL",
			seeAlso: []string{"https://mozilla.atlassian.net/browse/JBI-123"},
			want:    "JBI-123",
		},
		{
			name:    "jira hostname",
			seeAlso: []string{"https://jira.example.com/browse/ABC-1"},
			want:    "ABC-1",
		},
		{
			name: "first matching URL wins",
			seeAlso: []string{
				"https://github.com/mozilla/bugbot/issues/12",
				"https://mozilla.atlassian.net/browse/JBI-7",
				"https://mozilla.atlassian.net/browse/JBI-8",
			},
			want: "JBI-7",
		},
		{
			name:    "trailing slash stripped",
			seeAlso: []string{"https://mozilla.atlassian.net/browse/JBI-123/"},
			want:    "JBI-123",
		},
		{
			name:    "non tracker host skipped",
			seeAlso: []string{"https://bugzilla.mozilla.org/show_bug.cgi?id=1"},
			want:    "",
		},
		{
			name:    "tracker host without key",
			seeAlso: []string{"https://mozilla.atlassian.net/secure/Dashboard.jspa"},
			want:    "",
		},
		{
			name:    "empty see_also",
			seeAlso: nil,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bug := &Bug{SeeAlso: tt.seeAlso}
			assert.Equal(t, tt.want, bug.LinkedIssueKey())
		})
	}
}

func TestEventChangedFields(t *testing.T) {
	event := &Event{
		Changes: []EventChange{
			{Field: "status", Removed: "NEW", Added: "RESOLVED"},
			{Field: "resolution", Removed: "", Added: "FIXED"},
		},
		RoutingKey: "bug.modify:assigned_to",
	}
	assert.Equal(t, []string{"status", "resolution", "assigned_to"}, event.ChangedFields())

	noChanges := &Event{RoutingKey: "bug.modify"}
	assert.Empty(t, noChanges.ChangedFields())

	duplicated := &Event{
		Changes:    []EventChange{{Field: "status"}},
		RoutingKey: "bug.modify:status",
	}
	assert.Equal(t, []string{"status"}, duplicated.ChangedFields())
}

func TestBugIsAssigned(t *testing.T) {
	assert.True(t, (&Bug{AssignedTo: "dev@example.com"}).IsAssigned())
	assert.False(t, (&Bug{AssignedTo: "nobody@mozilla.org"}).IsAssigned())
	assert.False(t, (&Bug{}).IsAssigned())
}

func TestBugProductComponent(t *testing.T) {
	assert.Equal(t, "Core::General", (&Bug{Product: "Core", Component: "General"}).ProductComponent())
	assert.Equal(t, "Core", (&Bug{Product: "Core"}).ProductComponent())
	assert.Equal(t, "", (&Bug{}).ProductComponent())
}
