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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeActionsFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	writeActionsFile(t, path, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
`)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(path, testKnownSteps, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"devtest"}, store.Registry().WhiteboardTags())

	writeActionsFile(t, path, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
  - whiteboard_tag: ops
    parameters:
      jira_project_key: OPS
`)
	store.reload()
	assert.Equal(t, []string{"devtest", "ops"}, store.Registry().WhiteboardTags())
}

func TestStoreReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	writeActionsFile(t, path, `
actions:
  - whiteboard_tag: devtest
    parameters:
      jira_project_key: JBI
`)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(path, testKnownSteps, logger)
	require.NoError(t, err)

	writeActionsFile(t, path, "actions: [")
	store.reload()

	// Previous registry survives the broken edit.
	assert.Equal(t, []string{"devtest"}, store.Registry().WhiteboardTags())
}

func TestNewStoreFailsOnMissingFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewStore(filepath.Join(t.TempDir(), "absent.yaml"), testKnownSteps, logger)
	require.Error(t, err)
}
