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
	"crypto/subtle"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// apiKeyHeader carries the shared secret on protected endpoints.
const apiKeyHeader = "X-Api-Key"

// checkAPIKey compares the presented key in constant time. An empty
// configured key disables authentication (local development).
func checkAPIKey(r *http.Request, configured string) bool {
	if configured == "" {
		return true
	}
	presented := r.Header.Get(apiKeyHeader)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// RateLimiter applies a per-client token bucket, keyed by remote host.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows rps sustained requests per second per client with
// the given burst capacity.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the client identified by remoteAddr may proceed.
func (rl *RateLimiter) Allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	rl.mu.Lock()
	limiter, ok := rl.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[host] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}
