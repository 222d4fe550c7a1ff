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

	"github.com/tombee/bugbridge/pkg/errors"
)

// ErrStopPipeline is returned by a step to end the pipeline early without
// failing it. The steps already run keep their effects and the execution
// counts as handled.
var ErrStopPipeline = errors.New("stop pipeline")

// StepFunc is one named unit of work. Steps must be idempotent under
// retry given an unchanged bug state: the whole pipeline is re-run from
// the top when a retry replays the event.
type StepFunc func(ctx context.Context, actx *ActionContext) (*ActionContext, error)

// ExecutePipeline invokes each step in order, threading the returned
// context into the next step. The first error aborts the pipeline;
// earlier mutations are not rolled back. Recovery is the caller's
// business: the failed event lands in the dead letter queue and a retry
// re-runs the full pipeline.
func ExecutePipeline(ctx context.Context, actx *ActionContext, steps []StepFunc) (*ActionContext, error) {
	for _, step := range steps {
		next, err := step(ctx, actx)
		if err != nil {
			if errors.Is(err, ErrStopPipeline) {
				return next, nil
			}
			return actx, err
		}
		actx = next
	}
	return actx, nil
}
