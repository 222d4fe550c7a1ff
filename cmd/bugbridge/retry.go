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

package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/config"
	"github.com/tombee/bugbridge/internal/jira"
	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/queue"
	"github.com/tombee/bugbridge/internal/retry"
	"github.com/tombee/bugbridge/internal/runner"
	"github.com/tombee/bugbridge/internal/steps"
)

func newRetryCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Drain the dead letter queue",
		Long: `Replays queued webhook requests in per-bug order, expiring items
older than RETRY_TIMEOUT_DAYS. Performs a single pass and exits, unless
CONSTANT_RETRY=true makes it loop until interrupted. Run exactly one
instance per queue storage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			logCfg := log.FromEnv()
			if cfg.Debug {
				logCfg.Level = "debug"
			}
			logger := log.WithComponent(log.New(logCfg), "retry")

			bzClient, err := bugzilla.NewClient(cfg.BugzillaBaseURL, cfg.BugzillaAPIKey, logger)
			if err != nil {
				return err
			}
			jiraClient, err := jira.NewClient(cfg.JiraBaseURL, cfg.JiraUsername, cfg.JiraAPIKey, logger)
			if err != nil {
				return err
			}

			backend, err := queue.NewBackend(cfg.QueueDSN)
			if err != nil {
				return err
			}
			dlq := queue.NewDeadLetterQueue(backend, logger)
			defer dlq.Close()

			store, err := actions.NewStore(cfg.ActionsFile, steps.Known(), logger)
			if err != nil {
				return err
			}

			services := runner.Services{Bugzilla: bzClient, Jira: jiraClient}
			r := runner.New(services, steps.All(), nil, logger)

			worker := retry.New(dlq, r, store, nil, logger, retry.Config{
				Timeout:  time.Duration(cfg.RetryTimeoutDays) * 24 * time.Hour,
				Constant: cfg.ConstantRetry,
				Interval: interval,
			})

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Sleep between passes in constant mode (default 10s)")

	return cmd
}
