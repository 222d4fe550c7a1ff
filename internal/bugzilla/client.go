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
const serviceName = "bugzilla"

// Client is a typed wrapper over the source tracker's REST API.
// Authentication uses an API key passed as a query parameter.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a Client for the tracker at baseURL.
func NewClient(baseURL, apiKey string, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, &errors.ConfigError{Key: "BUGZILLA_BASE_URL", Reason: "is required"}
	}

	httpClient, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		logger:  log.WithComponent(logger, serviceName),
	}, nil
}

// BugURL renders the public URL of a bug, used for remote links.
func (c *Client) BugURL(bugID int) string {
	return fmt.Sprintf("%s/show_bug.cgi?id=%d", c.baseURL, bugID)
}

// errorEnvelope is the application-level error shape the tracker returns
// with a 200 status on some endpoints.
type errorEnvelope struct {
	Error   bool   `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return &errors.ClientError{Service: serviceName, Message: fmt.Sprintf("invalid URL %s%s", c.baseURL, path), Cause: err}
	}
	if query == nil {
		query = url.Values{}
	}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	u.RawQuery = query.Encode()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &errors.ClientError{Service: serviceName, Message: fmt.Sprintf("%s %s failed", method, path), Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.ClientError{Service: serviceName, StatusCode: resp.StatusCode, Message: "reading response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(raw))
		var envelope errorEnvelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
			message = envelope.Message
		}
		return &errors.ClientError{Service: serviceName, StatusCode: resp.StatusCode, Message: message}
	}

	// Some endpoints report errors in the body with a 200 status.
	var envelope errorEnvelope
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error {
		return &errors.ClientError{Service: serviceName, StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &errors.ClientError{Service: serviceName, StatusCode: resp.StatusCode, Message: "decoding response body", Cause: err}
		}
	}
	return nil
}

// GetBug fetches the current state of a bug.
func (c *Client) GetBug(ctx context.Context, bugID int) (*Bug, error) {
	var result struct {
		Bugs []*Bug `json:"bugs"`
	}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/rest/bug/%d", bugID), nil, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Bugs) == 0 {
		return nil, &errors.ClientError{Service: serviceName, StatusCode: http.StatusNotFound, Message: fmt.Sprintf("bug %d not found", bugID)}
	}
	return result.Bugs[0], nil
}

// RefreshBug re-fetches a webhook bug, preserving its embedded comment.
// When the embedded comment is private its body is withheld from the
// webhook payload; the body is recovered through the comments endpoint.
func (c *Client) RefreshBug(ctx context.Context, bug *Bug) (*Bug, error) {
	refreshed, err := c.GetBug(ctx, bug.ID)
	if err != nil {
		return nil, err
	}
	refreshed.Comment = bug.Comment

	if refreshed.Comment != nil && refreshed.Comment.Body == "" {
		comments, err := c.GetComments(ctx, bug.ID)
		if err != nil {
			return nil, err
		}
		for _, comment := range comments {
			if comment.ID == refreshed.Comment.ID {
				refreshed.Comment.Body = comment.Text
				break
			}
		}
		if refreshed.Comment.Body == "" {
			c.logger.Warn("comment body not visible with configured credentials",
				slog.Int(log.BugIDKey, bug.ID),
				slog.Int("comment_id", refreshed.Comment.ID),
			)
		}
	}
	return refreshed, nil
}

// GetComments fetches all comments of a bug, oldest first.
func (c *Client) GetComments(ctx context.Context, bugID int) ([]Comment, error) {
	var result struct {
		Bugs map[string]struct {
			Comments []Comment `json:"comments"`
		} `json:"bugs"`
	}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/rest/bug/%d/comment", bugID), nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Bugs[strconv.Itoa(bugID)].Comments, nil
}

// AddSeeAlso appends a URL to the bug's see_also field. Adding a URL that
// is already present is accepted by the tracker, which keeps this
// idempotent under retry.
func (c *Client) AddSeeAlso(ctx context.Context, bugID int, link string) error {
	body := map[string]any{
		"see_also": map[string]any{"add": []string{link}},
	}
	return c.call(ctx, http.MethodPut, fmt.Sprintf("/rest/bug/%d", bugID), nil, body, nil)
}

// LoggedIn reports whether the configured API key authenticates.
func (c *Client) LoggedIn(ctx context.Context) (bool, error) {
	var result struct {
		ID int `json:"id"`
	}
	if err := c.call(ctx, http.MethodGet, "/rest/whoami", nil, nil, &result); err != nil {
		return false, err
	}
	return result.ID > 0, nil
}

// ListWebhooks returns the webhooks registered for the configured account.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var result struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := c.call(ctx, http.MethodGet, "/rest/webhooks", nil, nil, &result); err != nil {
		return nil, err
	}

	for _, hook := range result.Webhooks {
		if hook.Errors > 0 {
			c.logger.Warn("webhook has accumulated delivery errors",
				slog.String("webhook", hook.Name),
				slog.Int("errors", hook.Errors),
			)
		}
	}
	return result.Webhooks, nil
}
