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

// Package daemon wires the HTTP surface: webhook intake, health probes,
// admin endpoints, and metrics, around the runner and the dead letter
// queue.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tombee/bugbridge/internal/actions"
	"github.com/tombee/bugbridge/internal/bugzilla"
	"github.com/tombee/bugbridge/internal/config"
	"github.com/tombee/bugbridge/internal/jira"
	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/internal/metrics"
	"github.com/tombee/bugbridge/internal/queue"
	"github.com/tombee/bugbridge/internal/runner"
	"github.com/tombee/bugbridge/internal/steps"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the bugbridge HTTP daemon.
type Daemon struct {
	cfg    *config.Settings
	opts   Options
	logger *slog.Logger
	server *http.Server
	ln     net.Listener

	bugzilla       *bugzilla.Client
	jira           *jira.Client
	queue          *queue.DeadLetterQueue
	store          *actions.Store
	runner         *runner.Runner
	collector      *metrics.Collector
	meterProvider  *sdkmetric.MeterProvider
	metricsHandler http.Handler
	sentryEnabled  bool

	mu      sync.Mutex
	started bool
}

// New creates a daemon from settings: tracker clients, queue storage,
// action registry, metrics, and the runner.
func New(cfg *config.Settings, opts Options) (*Daemon, error) {
	logCfg := log.FromEnv()
	if cfg.Debug {
		logCfg.Level = "debug"
	}
	logger := log.WithComponent(log.New(logCfg), "daemon")

	sentryEnabled := cfg.SentryDSN != ""
	if sentryEnabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          opts.Version,
			TracesSampleRate: cfg.SentryTracesSampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing sentry: %w", err)
		}
	}

	bzClient, err := bugzilla.NewClient(cfg.BugzillaBaseURL, cfg.BugzillaAPIKey, logger)
	if err != nil {
		return nil, err
	}
	jiraClient, err := jira.NewClient(cfg.JiraBaseURL, cfg.JiraUsername, cfg.JiraAPIKey, logger)
	if err != nil {
		return nil, err
	}

	backend, err := queue.NewBackend(cfg.QueueDSN)
	if err != nil {
		return nil, err
	}
	dlq := queue.NewDeadLetterQueue(backend, logger)

	store, err := actions.NewStore(cfg.ActionsFile, steps.Known(), logger)
	if err != nil {
		return nil, err
	}

	meterProvider, metricsHandler, err := metrics.NewProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	collector, err := metrics.NewCollector(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("initializing metrics collector: %w", err)
	}
	collector.SetQueueSizer(dlq)

	services := runner.Services{Bugzilla: bzClient, Jira: jiraClient}
	r := runner.New(services, steps.All(), collector, logger)

	return &Daemon{
		cfg:            cfg,
		opts:           opts,
		logger:         logger,
		bugzilla:       bzClient,
		jira:           jiraClient,
		queue:          dlq,
		store:          store,
		runner:         r,
		collector:      collector,
		meterProvider:  meterProvider,
		metricsHandler: metricsHandler,
		sentryEnabled:  sentryEnabled,
	}, nil
}

// Start starts the daemon and blocks until the context is cancelled or
// the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	addr := net.JoinHostPort(d.cfg.Host, fmt.Sprint(d.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	d.ln = ln

	router := NewRouter(RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
		APIKey:    d.cfg.APIKey,
	}, d.logger)
	router.SetMetricsHandler(d.metricsHandler)

	webhook := NewWebhookHandler(d.runner, d.queue, d.store, d.collector, d.logger)
	webhook.RegisterRoutes(router)

	health := NewHealthHandler(d.bugzilla, d.jira, d.queue, d.store)
	health.RegisterRoutes(router)

	admin := NewAdminHandler(d.bugzilla, d.jira, d.queue, d.store)
	admin.RegisterRoutes(router)

	d.server = &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Reload the action configuration on file changes for as long as the
	// daemon runs.
	go func() {
		if err := d.store.Watch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("action configuration watcher stopped", log.Error(err))
		}
	}()

	d.logger.Info("bugbridge starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("queue_dsn", d.cfg.QueueDSN),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the daemon.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.logger.Info("graceful shutdown initiated")

	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)

		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", log.Error(err))
		}
	}

	if err := d.queue.Close(); err != nil {
		d.logger.Error("failed to close queue storage", log.Error(err))
	}

	if d.meterProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.meterProvider.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("metrics provider shutdown error", log.Error(err))
		}
	}

	if d.sentryEnabled {
		sentry.Flush(2 * time.Second)
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}
