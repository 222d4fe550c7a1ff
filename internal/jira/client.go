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

package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/pkg/errors"
	"github.com/tombee/bugbridge/pkg/httpclient"
)

// serviceName identifies this tracker in ClientError values and logs.
const serviceName = "jira"

// Client is a typed wrapper over the target tracker's REST API (v2).
// Authentication uses basic auth with a username and API token.
type Client struct {
	baseURL  string
	username string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient builds a Client for the tracker at baseURL.
func NewClient(baseURL, username, apiKey string, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, &errors.ConfigError{Key: "JIRA_BASE_URL", Reason: "is required"}
	}

	httpClient, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiKey:   apiKey,
		http:     httpClient,
		logger:   log.WithComponent(logger, serviceName),
	}, nil
}

// IssueURL renders the public URL of an issue, stored in the source bug's
// see_also field.
func (c *Client) IssueURL(issueKey string) string {
	return c.baseURL + "/browse/" + issueKey
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return 0, &errors.ClientError{Service: serviceName, Message: fmt.Sprintf("invalid URL %s%s", c.baseURL, path), Cause: err}
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "encoding request body")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return 0, errors.Wrap(err, "building request")
	}
	req.SetBasicAuth(c.username, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &errors.ClientError{Service: serviceName, Message: fmt.Sprintf("%s %s failed", method, path), Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &errors.ClientError{Service: serviceName, StatusCode: resp.StatusCode, Message: "reading response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &errors.ClientError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, &errors.ClientError{Service: serviceName, StatusCode: resp.StatusCode, Message: "decoding response body", Cause: err}
		}
	}
	return resp.StatusCode, nil
}

// errorMessage flattens the tracker's error envelope into one string.
func errorMessage(raw []byte) string {
	var envelope struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if json.Unmarshal(raw, &envelope) != nil {
		return strings.TrimSpace(string(raw))
	}

	parts := append([]string{}, envelope.ErrorMessages...)
	for field, msg := range envelope.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	if len(parts) == 0 {
		return strings.TrimSpace(string(raw))
	}
	return strings.Join(parts, "; ")
}

// CreateIssue creates an issue from the given fields. A 2xx response whose
// envelope still reports errors fails with CreateError.
func (c *Client) CreateIssue(ctx context.Context, fields map[string]any) (*CreatedIssue, error) {
	var created CreatedIssue
	if _, err := c.call(ctx, http.MethodPost, "/rest/api/2/issue", nil, map[string]any{"fields": fields}, &created); err != nil {
		return nil, err
	}

	if len(created.Errors) > 0 || len(created.ErrorMessages) > 0 {
		return nil, &errors.CreateError{Errors: created.Errors, Messages: created.ErrorMessages}
	}
	return &created, nil
}

// GetIssue fetches an issue. A missing issue returns (nil, nil), not an
// error: callers treat absence as a normal state.
func (c *Client) GetIssue(ctx context.Context, issueKey string) (*Issue, error) {
	var issue Issue
	status, err := c.call(ctx, http.MethodGet, "/rest/api/2/issue/"+issueKey, nil, nil, &issue)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateIssueFields overwrites the given fields on an issue.
func (c *Client) UpdateIssueFields(ctx context.Context, issueKey string, fields map[string]any) error {
	_, err := c.call(ctx, http.MethodPut, "/rest/api/2/issue/"+issueKey, nil, map[string]any{"fields": fields}, nil)
	return err
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, issueKey, body string) (*Comment, error) {
	var comment Comment
	if _, err := c.call(ctx, http.MethodPost, "/rest/api/2/issue/"+issueKey+"/comment", nil, map[string]any{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// SetIssueStatus transitions an issue to the named status. The transition
// is resolved from the issue's currently available transitions; a status
// with no matching transition is an error the caller decides to tolerate.
func (c *Client) SetIssueStatus(ctx context.Context, issueKey, statusName string) error {
	var result struct {
		Transitions []Transition `json:"transitions"`
	}
	if _, err := c.call(ctx, http.MethodGet, "/rest/api/2/issue/"+issueKey+"/transitions", nil, nil, &result); err != nil {
		return err
	}

	for _, transition := range result.Transitions {
		if strings.EqualFold(transition.To.Name, statusName) || strings.EqualFold(transition.Name, statusName) {
			body := map[string]any{"transition": map[string]any{"id": transition.ID}}
			_, err := c.call(ctx, http.MethodPost, "/rest/api/2/issue/"+issueKey+"/transitions", nil, body, nil)
			return err
		}
	}

	return &errors.ClientError{
		Service: serviceName,
		Message: fmt.Sprintf("no transition to status %q on issue %s", statusName, issueKey),
	}
}

// FindUsers searches accounts matching the query (typically an email).
func (c *Client) FindUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	q := url.Values{"query": {query}}
	if _, err := c.call(ctx, http.MethodGet, "/rest/api/2/user/search", q, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AddRemoteLink creates or updates the remote link identified by globalID
// on an issue. The tracker upserts by global id, which keeps this
// idempotent under retry.
func (c *Client) AddRemoteLink(ctx context.Context, issueKey, globalID, linkURL, title, iconURL string) error {
	object := map[string]any{
		"url":   linkURL,
		"title": title,
	}
	if iconURL != "" {
		object["icon"] = map[string]any{"url16x16": iconURL, "title": title}
	}
	body := map[string]any{
		"globalId": globalID,
		"object":   object,
	}
	_, err := c.call(ctx, http.MethodPost, "/rest/api/2/issue/"+issueKey+"/remotelink", nil, body, nil)
	return err
}

// DeleteIssue removes an issue. Deleting an already-deleted issue is not
// an error.
func (c *Client) DeleteIssue(ctx context.Context, issueKey string) error {
	status, err := c.call(ctx, http.MethodDelete, "/rest/api/2/issue/"+issueKey, nil, nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// GetServerInfo fetches server metadata, used by the health probe.
func (c *Client) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if _, err := c.call(ctx, http.MethodGet, "/rest/api/2/serverInfo", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Projects returns all projects visible to the configured credentials.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	startAt := 0

	for {
		var page struct {
			Values []Project `json:"values"`
			IsLast bool      `json:"isLast"`
		}
		q := url.Values{
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {"50"},
		}
		if _, err := c.call(ctx, http.MethodGet, "/rest/api/2/project/search", q, nil, &page); err != nil {
			return nil, err
		}

		projects = append(projects, page.Values...)
		if page.IsLast || len(page.Values) == 0 {
			break
		}
		startAt += len(page.Values)
	}

	return projects, nil
}

// MissingPermissions returns the required capabilities the configured
// credentials lack in the given project. An empty result means the
// project is fully usable.
func (c *Client) MissingPermissions(ctx context.Context, projectKey string) ([]string, error) {
	var result struct {
		Permissions map[string]struct {
			HavePermission bool `json:"havePermission"`
		} `json:"permissions"`
	}
	q := url.Values{
		"projectKey":  {projectKey},
		"permissions": {strings.Join(requiredPermissions, ",")},
	}
	if _, err := c.call(ctx, http.MethodGet, "/rest/api/2/mypermissions", q, nil, &result); err != nil {
		return nil, err
	}

	var missing []string
	for _, permission := range requiredPermissions {
		if grant, ok := result.Permissions[permission]; !ok || !grant.HavePermission {
			missing = append(missing, permission)
		}
	}
	return missing, nil
}
