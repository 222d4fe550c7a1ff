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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/bugbridge/internal/config"
	"github.com/tombee/bugbridge/internal/daemon"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook daemon",
		Long: `Starts the HTTP daemon: webhook intake, health probes, admin
endpoints, and the Prometheus metrics endpoint. All configuration is
read from the environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg, daemon.Options{
				Version:   version,
				Commit:    commit,
				BuildDate: buildDate,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				errCh <- d.Start(ctx)
			}()

			select {
			case sig := <-sigCh:
				fmt.Fprintf(os.Stderr, "received signal %v, shutting down\n", sig)
				cancel()
				return d.Shutdown(context.Background())
			case err := <-errCh:
				return err
			}
		},
	}
}
