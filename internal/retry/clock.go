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

// Package retry drains the dead letter queue: a single-instance worker
// that replays queued webhook requests in per-bug order, expiring items
// older than the retry timeout.
package retry

import "time"

// Clock supplies "now" so expiry is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FakeClock is a fixed, manually advanced clock for tests.
type FakeClock struct {
	Current time.Time
}

// Now implements Clock.
func (c *FakeClock) Now() time.Time {
	return c.Current
}

// Advance moves the fake clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}
