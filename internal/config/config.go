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

// Package config loads daemon settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/tombee/bugbridge/pkg/errors"
)

// Default values for optional settings.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8000
	DefaultQueueDSN         = "file:///var/lib/bugbridge/queue"
	DefaultRetryTimeoutDays = 7
	DefaultActionsFile      = "config/actions.yaml"
)

// Settings holds all environment-derived configuration.
type Settings struct {
	// Host and Port for the HTTP daemon.
	Host string
	Port int

	// APIKey protects the webhook and admin endpoints (X-Api-Key header).
	APIKey string

	// ActionsFile is the path of the YAML action configuration.
	ActionsFile string

	// QueueDSN locates the dead letter queue storage (file://, sqlite://, memory://).
	QueueDSN string

	// RetryTimeoutDays is the age after which queued items expire.
	RetryTimeoutDays int

	// ConstantRetry makes the retry worker loop continuously instead of
	// running a single pass.
	ConstantRetry bool

	// Jira credentials.
	JiraBaseURL  string
	JiraUsername string
	JiraAPIKey   string

	// Bugzilla credentials.
	BugzillaBaseURL string
	BugzillaAPIKey  string

	// Debug enables debug logging with source locations.
	Debug bool

	// Sentry crash reporting (disabled when DSN is empty).
	SentryDSN              string
	SentryTracesSampleRate float64
}

// FromEnv builds Settings from environment variables.
// Recognized variables:
//   - HOST, PORT, JBI_API_KEY, ACTIONS_FILE
//   - DL_QUEUE_DSN, RETRY_TIMEOUT_DAYS, CONSTANT_RETRY
//   - JIRA_BASE_URL, JIRA_USERNAME, JIRA_API_KEY
//   - BUGZILLA_BASE_URL, BUGZILLA_API_KEY
//   - APP_DEBUG, SENTRY_DSN, SENTRY_TRACES_SAMPLE_RATE
func FromEnv() (*Settings, error) {
	s := &Settings{
		Host:             getenvDefault("HOST", DefaultHost),
		Port:             DefaultPort,
		APIKey:           os.Getenv("JBI_API_KEY"),
		ActionsFile:      getenvDefault("ACTIONS_FILE", DefaultActionsFile),
		QueueDSN:         getenvDefault("DL_QUEUE_DSN", DefaultQueueDSN),
		RetryTimeoutDays: DefaultRetryTimeoutDays,
		ConstantRetry:    os.Getenv("CONSTANT_RETRY") == "true",
		JiraBaseURL:      os.Getenv("JIRA_BASE_URL"),
		JiraUsername:     os.Getenv("JIRA_USERNAME"),
		JiraAPIKey:       os.Getenv("JIRA_API_KEY"),
		BugzillaBaseURL:  os.Getenv("BUGZILLA_BASE_URL"),
		BugzillaAPIKey:   os.Getenv("BUGZILLA_API_KEY"),
		Debug:            os.Getenv("APP_DEBUG") == "true" || os.Getenv("APP_DEBUG") == "1",
		SentryDSN:        os.Getenv("SENTRY_DSN"),
	}

	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, &errors.ConfigError{Key: "PORT", Reason: fmt.Sprintf("not an integer: %q", port), Cause: err}
		}
		s.Port = n
	}

	if days := os.Getenv("RETRY_TIMEOUT_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, &errors.ConfigError{Key: "RETRY_TIMEOUT_DAYS", Reason: fmt.Sprintf("not an integer: %q", days), Cause: err}
		}
		s.RetryTimeoutDays = n
	}

	if rate := os.Getenv("SENTRY_TRACES_SAMPLE_RATE"); rate != "" {
		f, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, &errors.ConfigError{Key: "SENTRY_TRACES_SAMPLE_RATE", Reason: fmt.Sprintf("not a number: %q", rate), Cause: err}
		}
		s.SentryTracesSampleRate = f
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that required settings are present and consistent.
func (s *Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return &errors.ConfigError{Key: "PORT", Reason: fmt.Sprintf("out of range: %d", s.Port)}
	}
	if s.RetryTimeoutDays <= 0 {
		return &errors.ConfigError{Key: "RETRY_TIMEOUT_DAYS", Reason: fmt.Sprintf("must be positive, got %d", s.RetryTimeoutDays)}
	}
	if s.JiraBaseURL == "" {
		return &errors.ConfigError{Key: "JIRA_BASE_URL", Reason: "is required"}
	}
	if s.JiraUsername == "" {
		return &errors.ConfigError{Key: "JIRA_USERNAME", Reason: "is required"}
	}
	if s.JiraAPIKey == "" {
		return &errors.ConfigError{Key: "JIRA_API_KEY", Reason: "is required"}
	}
	if s.BugzillaBaseURL == "" {
		return &errors.ConfigError{Key: "BUGZILLA_BASE_URL", Reason: "is required"}
	}
	if s.BugzillaAPIKey == "" {
		return &errors.ConfigError{Key: "BUGZILLA_API_KEY", Reason: "is required"}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
