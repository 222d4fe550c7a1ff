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

// Package jira holds the target-tracker REST client and response models.
package jira

// CreatedIssue is the response to an issue creation. The tracker can
// return an error envelope alongside a 2xx status, so the error fields
// are part of the model.
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`

	Errors        map[string]string `json:"errors,omitempty"`
	ErrorMessages []string          `json:"errorMessages,omitempty"`
}

// Issue is a minimal issue representation used for existence checks.
type Issue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Comment is the response to a comment creation.
type Comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// User is a tracker account, resolved during assignee lookup.
type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Active       bool   `json:"active"`
}

// Transition is a workflow transition available on an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

// ServerInfo is returned by the server info health endpoint.
type ServerInfo struct {
	BaseURL        string `json:"baseUrl"`
	Version        string `json:"version"`
	DeploymentType string `json:"deploymentType"`
	ServerTitle    string `json:"serverTitle"`
}

// Project is a visible target-tracker project.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// requiredPermissions are the capabilities the configured credentials
// must hold in each synchronized project.
var requiredPermissions = []string{
	"ADD_COMMENTS",
	"CREATE_ISSUES",
	"DELETE_ISSUES",
	"EDIT_ISSUES",
}
