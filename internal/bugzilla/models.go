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

// Package bugzilla holds the source-tracker data model and REST client.
// The webhook payload shape follows the Bugzilla webhook plugin.
package bugzilla

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// nobodyAssignee is the sentinel Bugzilla uses for unassigned bugs.
const nobodyAssignee = "nobody@mozilla.org"

// jiraHostnameParts are hostname labels that identify a see_also URL as a
// link to the target tracker.
var jiraHostnameParts = []string{"jira", "atlassian"}

var (
	bracketedSegmentRe = regexp.MustCompile(`\[([^\]]+)\]`)
	issueKeyRe         = regexp.MustCompile(`^[A-Z]+-?\d+$`)
)

// User identifies the tracker account that triggered an event.
type User struct {
	Login string `json:"login"`
}

// EventChange records a single field modification carried by a webhook.
type EventChange struct {
	Field   string `json:"field"`
	Removed string `json:"removed"`
	Added   string `json:"added"`
}

// Event describes what happened to a bug.
type Event struct {
	// Action is one of "create", "modify", "comment", or another
	// plugin-defined verb.
	Action string `json:"action"`

	// Time is authoritative for per-bug ordering.
	Time time.Time `json:"time"`

	User *User `json:"user,omitempty"`

	Changes []EventChange `json:"changes,omitempty"`

	// Target is "bug" or "comment".
	Target string `json:"target"`

	// RoutingKey optionally carries the changed field after a colon,
	// e.g. "bug.modify:assigned_to".
	RoutingKey string `json:"routing_key,omitempty"`
}

// ChangedFields returns the union of the fields named in Changes and any
// field embedded in the routing key suffix.
func (e *Event) ChangedFields() []string {
	var fields []string
	seen := map[string]bool{}

	add := func(field string) {
		field = strings.TrimSpace(field)
		if field == "" || seen[field] {
			return
		}
		seen[field] = true
		fields = append(fields, field)
	}

	for _, change := range e.Changes {
		add(change.Field)
	}

	if _, suffix, found := strings.Cut(e.RoutingKey, ":"); found {
		for _, field := range strings.Split(suffix, ",") {
			add(field)
		}
	}

	return fields
}

// WebhookComment is the comment embedded in comment-creation events.
// The body is withheld by the source tracker when the comment is private.
type WebhookComment struct {
	ID           int       `json:"id,omitempty"`
	Number       int       `json:"number,omitempty"`
	IsPrivate    bool      `json:"is_private"`
	Body         string    `json:"body,omitempty"`
	CreationTime time.Time `json:"creation_time,omitzero"`
}

// Comment is a comment fetched through the REST API.
type Comment struct {
	ID           int       `json:"id"`
	Text         string    `json:"text"`
	Creator      string    `json:"creator"`
	IsPrivate    bool      `json:"is_private"`
	CreationTime time.Time `json:"creation_time"`
}

// Bug is an immutable snapshot of a source-tracker record.
type Bug struct {
	ID         int             `json:"id"`
	IsPrivate  bool            `json:"is_private"`
	Type       string          `json:"type,omitempty"`
	Product    string          `json:"product,omitempty"`
	Component  string          `json:"component,omitempty"`
	Whiteboard string          `json:"whiteboard,omitempty"`
	Keywords   []string        `json:"keywords,omitempty"`
	Status     string          `json:"status,omitempty"`
	Resolution string          `json:"resolution,omitempty"`
	SeeAlso    []string        `json:"see_also,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Severity   string          `json:"severity,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	Creator    string          `json:"creator,omitempty"`
	AssignedTo string          `json:"assigned_to,omitempty"`
	Comment    *WebhookComment `json:"comment,omitempty"`
}

// whiteboardSegments extracts the bracketed whiteboard segments with
// interior spaces replaced by dots, preserving whiteboard order.
func (b *Bug) whiteboardSegments() []string {
	var segments []string
	for _, match := range bracketedSegmentRe.FindAllStringSubmatch(b.Whiteboard, -1) {
		segment := strings.TrimSpace(match[1])
		if segment == "" {
			continue
		}
		segments = append(segments, strings.ReplaceAll(segment, " ", "."))
	}
	return segments
}

// Tags returns the whiteboard tags used for action lookup: lower-cased bare
// tokens first, then their bracketed forms. The order is deterministic in
// the whiteboard content.
func (b *Bug) Tags() []string {
	segments := b.whiteboardSegments()

	tags := make([]string, 0, len(segments)*2)
	for _, segment := range segments {
		tags = append(tags, strings.ToLower(segment))
	}
	for _, segment := range segments {
		tags = append(tags, "["+strings.ToLower(segment)+"]")
	}
	return tags
}

// JiraLabels returns the labels to mirror onto the target issue: the
// literal "bugzilla", each whiteboard token, and each bracketed token.
// Spaces are replaced with dots since target labels cannot contain them.
func (b *Bug) JiraLabels() []string {
	segments := b.whiteboardSegments()

	labels := make([]string, 0, len(segments)*2+1)
	labels = append(labels, "bugzilla")
	for _, segment := range segments {
		labels = append(labels, segment)
	}
	for _, segment := range segments {
		labels = append(labels, "["+segment+"]")
	}
	return labels
}

// LinkedIssueKey scans see_also for the first URL that points at the target
// tracker and ends in a well-formed issue key. Returns "" when no link
// exists.
func (b *Bug) LinkedIssueKey() string {
	for _, raw := range b.SeeAlso {
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if !isJiraHostname(parsed.Hostname()) {
			continue
		}
		path := strings.TrimRight(parsed.Path, "/")
		key := path[strings.LastIndex(path, "/")+1:]
		if issueKeyRe.MatchString(key) {
			return key
		}
	}
	return ""
}

// ProductComponent renders "product::component", omitting empty parts.
func (b *Bug) ProductComponent() string {
	parts := make([]string, 0, 2)
	for _, part := range []string{b.Product, b.Component} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "::")
}

// IsAssigned reports whether the bug has a real assignee.
func (b *Bug) IsAssigned() bool {
	return b.AssignedTo != "" && b.AssignedTo != nobodyAssignee
}

func isJiraHostname(hostname string) bool {
	for _, label := range strings.Split(hostname, ".") {
		for _, part := range jiraHostnameParts {
			if label == part {
				return true
			}
		}
	}
	return false
}

// WebhookRequest is the envelope delivered by the source tracker.
// The pair (bug.id, event.time) is the logical key for ordering.
type WebhookRequest struct {
	WebhookID   int    `json:"webhook_id"`
	WebhookName string `json:"webhook_name"`
	Bug         *Bug   `json:"bug"`
	Event       *Event `json:"event"`
}

// Webhook describes a registered webhook, as returned by the
// /rest/webhooks administrative endpoint.
type Webhook struct {
	ID        int    `json:"id"`
	Creator   string `json:"creator"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Event     string `json:"event"`
	Product   string `json:"product"`
	Component string `json:"component"`
	Enabled   bool   `json:"enabled"`
	Errors    int    `json:"errors"`
}
