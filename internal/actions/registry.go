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
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/pkg/errors"
)

// Registry holds the loaded actions, keyed by lower-cased whiteboard tag.
// A Registry is immutable once built; hot reload swaps whole registries.
type Registry struct {
	actions []*Action
	byTag   map[string]*Action
}

// Load reads the action configuration file. knownSteps names the steps the
// step library implements; configured step names outside it fail loading.
func Load(path string, knownSteps map[string]bool) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "unable to read actions file", Cause: err}
	}
	return Parse(raw, knownSteps)
}

// Parse builds a Registry from raw YAML.
func Parse(raw []byte, knownSteps map[string]bool) (*Registry, error) {
	var doc struct {
		Actions []*Action `yaml:"actions"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &errors.ConfigError{Key: "actions", Reason: "invalid YAML", Cause: err}
	}
	if len(doc.Actions) == 0 {
		return nil, &errors.ConfigError{Key: "actions", Reason: "at least one action is required"}
	}

	registry := &Registry{byTag: make(map[string]*Action, len(doc.Actions))}

	for i, action := range doc.Actions {
		key := fmt.Sprintf("actions[%d]", i)

		if action.WhiteboardTag == "" {
			return nil, &errors.ConfigError{Key: key, Reason: "whiteboard_tag is required"}
		}
		// Tags are stored bare so "[devtest]" and "devtest" configure
		// the same action.
		tag := strings.Trim(strings.ToLower(action.WhiteboardTag), "[]")
		if _, exists := registry.byTag[tag]; exists {
			return nil, &errors.ConfigError{Key: key, Reason: fmt.Sprintf("duplicate whiteboard_tag %q", tag)}
		}
		if action.ProjectKey() == "" {
			return nil, &errors.ConfigError{Key: key + ".parameters", Reason: "jira_project_key is required"}
		}

		if err := validateSteps(key, action.Parameters.Steps, knownSteps); err != nil {
			return nil, err
		}

		registry.actions = append(registry.actions, action)
		registry.byTag[tag] = action
	}

	return registry, nil
}

func validateSteps(key string, steps map[string][]string, knownSteps map[string]bool) error {
	for group, names := range steps {
		if !validGroups[group] {
			return &errors.ConfigError{
				Key:    key + ".parameters.steps",
				Reason: fmt.Sprintf("unknown step group %q (valid groups: new, existing, comment)", group),
			}
		}
		for _, name := range names {
			if !knownSteps[name] {
				return &errors.ConfigError{
					Key:    fmt.Sprintf("%s.parameters.steps.%s", key, group),
					Reason: fmt.Sprintf("unknown step %q", name),
				}
			}
		}
	}
	return nil
}

// LookupAction resolves a bug to the first enabled action whose
// whiteboard_tag matches one of the bug's tags. The scan order is the
// bug's deterministic tag order: bare tokens first, then bracketed.
func (r *Registry) LookupAction(bug *bugzilla.Bug) (*Action, error) {
	tags := bug.Tags()
	for _, tag := range tags {
		candidate := strings.Trim(tag, "[]")
		if action, ok := r.byTag[candidate]; ok && action.Enabled {
			return action, nil
		}
	}
	return nil, &errors.ActionNotFoundError{Tags: tags}
}

// All returns the actions in configuration order.
func (r *Registry) All() []*Action {
	return r.actions
}

// WhiteboardTags lists the configured tags, sorted.
func (r *Registry) WhiteboardTags() []string {
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ProjectKeys lists the distinct target project keys, sorted.
func (r *Registry) ProjectKeys() []string {
	seen := map[string]bool{}
	var keys []string
	for _, action := range r.actions {
		if key := action.ProjectKey(); !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
