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

package daemon

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/bugbridge/internal/log"
	"github.com/tombee/bugbridge/pkg/httpclient"
)

// Default rate limit for protected endpoints, per client host.
const (
	defaultRateLimit = 10.0
	defaultRateBurst = 20
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string

	// APIKey protects the webhook and admin endpoints. Empty disables
	// authentication.
	APIKey string
}

// Router wraps an http.ServeMux with request-ID assignment, request
// logging, and authentication for protected routes.
type Router struct {
	mux     *http.ServeMux
	config  RouterConfig
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewRouter creates the router with the built-in endpoints registered.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		limiter: NewRateLimiter(defaultRateLimit, defaultRateBurst),
		logger:  log.WithComponent(logger, "api"),
	}

	r.mux.HandleFunc("GET /", r.handleRoot)
	r.mux.HandleFunc("GET /__version__", r.handleVersion)

	return r
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// SetMetricsHandler registers the Prometheus scrape endpoint.
func (r *Router) SetMetricsHandler(handler http.Handler) {
	if handler != nil {
		r.mux.Handle("GET /metrics", handler)
	}
}

// Protected wraps a handler with API-key authentication and rate
// limiting.
func (r *Router) Protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !checkAPIKey(req, r.config.APIKey) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if !r.limiter.Allow(req.RemoteAddr) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// ServeHTTP implements http.Handler: every request gets an ID that
// follows it into outbound tracker calls, and a completion log line.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	requestID := uuid.NewString()
	ctx := httpclient.ContextWithRequestID(req.Context(), requestID)
	req = req.WithContext(ctx)

	logger := log.WithRequestID(r.logger, requestID)
	start := time.Now()
	defer func() {
		logger.Info("request completed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
		)
	}()

	r.mux.ServeHTTP(w, req)
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "bugbridge",
		"version": r.config.Version,
	})
}

// handleVersion serves the Dockerflow version document.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": r.config.Version,
		"commit":  r.config.Commit,
		"build":   r.config.BuildDate,
		"source":  "https://github.com/tombee/bugbridge",
	})
}
