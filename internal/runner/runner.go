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

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/metrics"
	"github.com/tombee/bugbridge/pkg/errors"
)

// Runner executes webhook requests: it resolves the configured action,
// classifies the operation, and runs the step pipeline.
type Runner struct {
	services Services
	steps    map[string]StepFunc
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// New builds a Runner. The steps table maps configured step names to
// implementations; the metrics collector may be nil in tests.
func New(services Services, steps map[string]StepFunc, collector *metrics.Collector, logger *slog.Logger) *Runner {
	return &Runner{
		services: services,
		steps:    steps,
		metrics:  collector,
		logger:   log.WithComponent(logger, "runner"),
	}
}

// Result reports what an execution did, returned to the webhook sender.
type Result struct {
	Handled   bool      `json:"handled"`
	Operation Operation `json:"operation"`
	Action    string    `json:"action,omitempty"`
	IssueKey  string    `json:"issue_key,omitempty"`
	Responses []any     `json:"responses"`
}

// Execute processes one webhook request against the given registry.
// An *errors.InvalidRequestError means the request must be dropped, not
// retried; any other error routes the request to the dead letter queue.
func (r *Runner) Execute(ctx context.Context, request *bugzilla.WebhookRequest, registry *actions.Registry) (*Result, error) {
	result, reason, err := r.execute(ctx, request, registry)
	if err != nil {
		if errors.IsInvalidRequest(err) {
			if r.metrics != nil {
				r.metrics.RecordIgnored(ctx, reason)
			}
			r.logger.Info("request ignored",
				slog.Int(log.BugIDKey, request.Bug.ID),
				slog.String(log.OperationKey, string(OpIgnore)),
				log.Error(err),
			)
		}
		return nil, err
	}
	return result, nil
}

// execute returns the result, or an error plus a short reason tag used as
// the ignored-counter attribute.
func (r *Runner) execute(ctx context.Context, request *bugzilla.WebhookRequest, registry *actions.Registry) (*Result, string, error) {
	bug, event := request.Bug, request.Event
	logger := r.logger.With(slog.Int(log.BugIDKey, bug.ID))

	logger.Debug("handling request",
		slog.String(log.OperationKey, string(OpHandle)),
		slog.String("event_action", event.Action),
	)

	// Private bugs are not delivered in full by the webhook; what we got
	// may be stale or incomplete. Re-fetch through the API, which also
	// proves the configured credentials may see the bug at all.
	if bug.IsPrivate {
		refreshed, err := r.services.Bugzilla.RefreshBug(ctx, bug)
		if err != nil {
			return nil, "inaccessible", &errors.InvalidRequestError{
				Reason: fmt.Sprintf("bug %d is not accessible", bug.ID),
				Cause:  err,
			}
		}
		bug = refreshed
	}

	action, err := registry.LookupAction(bug)
	if err != nil {
		return nil, "no_action", &errors.InvalidRequestError{
			Reason: fmt.Sprintf("bug %d has no matching action", bug.ID),
			Cause:  err,
		}
	}

	if bug.IsPrivate && !action.AllowPrivate() {
		return nil, "private", &errors.InvalidRequestError{
			Reason: fmt.Sprintf("private bugs are not allowed for action %q", action.WhiteboardTag),
		}
	}

	logger = logger.With(slog.String(log.ActionKey, action.WhiteboardTag))

	actx := &ActionContext{
		Bug:       bug,
		Event:     event,
		Operation: OpIgnore,
		Jira: JiraContext{
			Project: action.ProjectKey(),
			Issue:   bug.LinkedIssueKey(),
		},
		Action:   action,
		Extra:    extraParams(action),
		Services: r.services,
		Logger:   logger,
	}

	var group string
	switch {
	case event.Target == "bug" && actx.Jira.Issue == "":
		actx.Operation = OpCreate
		group = actions.GroupNew
	case event.Target == "bug":
		actx.Operation = OpUpdate
		group = actions.GroupExisting
		actx.Extra["changed_fields"] = strings.Join(event.ChangedFields(), ", ")
	case event.Target == "comment":
		actx.Operation = OpComment
		group = actions.GroupComment
	default:
		return nil, "unsupported_target", &errors.InvalidRequestError{
			Reason: fmt.Sprintf("unsupported event target %q", event.Target),
		}
	}

	steps, err := r.resolveSteps(action.Parameters.StepsFor(group))
	if err != nil {
		return nil, "", err
	}

	logger.Info("executing action",
		slog.String(log.OperationKey, string(OpExecute)),
		slog.Int("steps", len(steps)),
	)

	start := time.Now()
	actx, err = ExecutePipeline(ctx, actx, steps)
	if err != nil {
		return nil, "step_failed", err
	}
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordProcessed(ctx, action.WhiteboardTag, string(actx.Operation), duration)
	}
	logger.Info("action executed",
		slog.String(log.OperationKey, string(OpSuccess)),
		slog.String(log.IssueKeyKey, actx.Jira.Issue),
		slog.Int64(log.DurationKey, duration.Milliseconds()),
	)

	responses := actx.Responses
	if responses == nil {
		responses = []any{}
	}
	return &Result{
		Handled:   true,
		Operation: actx.Operation,
		Action:    action.WhiteboardTag,
		IssueKey:  actx.Jira.Issue,
		Responses: responses,
	}, "", nil
}

func (r *Runner) resolveSteps(names []string) ([]StepFunc, error) {
	steps := make([]StepFunc, 0, len(names))
	for _, name := range names {
		step, ok := r.steps[name]
		if !ok {
			// Configuration validation rejects unknown names at load, so
			// this only fires when the step table and validator diverge.
			return nil, &errors.ConfigError{Key: "steps", Reason: fmt.Sprintf("unknown step %q", name)}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// extraParams renders the action's unrecognized parameters for the
// context, preserved so custom tooling downstream of the responses can
// see them.
func extraParams(action *actions.Action) map[string]string {
	extra := make(map[string]string, len(action.Parameters.Extra)+1)
	for key, value := range action.Parameters.Extra {
		extra[key] = fmt.Sprint(value)
	}
	return extra
}
