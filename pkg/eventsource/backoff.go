// Copyright 2025 Commonwealth Scientific and Industrial Research Organisation (CSIRO) ABN 41 687 119 230
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

package eventsource

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default bounds used by Config when the caller does not override them.
const (
	DefaultInitialRetryDelay     = time.Second
	DefaultMaxRetryDelay         = 30 * time.Second
	DefaultBackoffResetThreshold = 60 * time.Second
)

// backoffPolicy implements the decorrelated-jitter delay sequence described
// in spec §4.A. It satisfies backoff/v4's BackOff interface (NextBackOff,
// Reset) so it composes with that library's retry helpers the way the
// teacher's HTTP adapter already does for its own, unrelated, retry loop;
// the Stream Client calls nextDelay/reset directly rather than going through
// backoff.Retry, since the spec's read loop has connect-specific behavior
// (consulting the ErrorStrategy) that doesn't fit backoff.Retry's callback
// shape.
type backoffPolicy struct {
	mu sync.Mutex

	initialDelay time.Duration // base, replaceable by a retry: directive
	maxDelay     time.Duration
	attempt      int64

	rand *rand.Rand
}

var _ backoff.BackOff = (*backoffPolicy)(nil)

func newBackoffPolicy(initialDelay, maxDelay time.Duration) *backoffPolicy {
	return &backoffPolicy{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		// #nosec G404 -- jitter does not need cryptographic randomness.
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextBackOff satisfies backoff.BackOff.
func (b *backoffPolicy) NextBackOff() time.Duration {
	return b.nextDelay()
}

// Reset satisfies backoff.BackOff.
func (b *backoffPolicy) Reset() {
	b.reset()
}

// nextDelay returns the delay to sleep before the next attempt and advances
// the attempt counter. For attempt index n (zero-based):
//
//	cap := min(maxDelay, initialDelay * 2^n)
//	j   := uniform[0, cap)
//	d   := cap/2 + j/2
//
// d lies in [cap/2, cap), doubles in expectation per attempt, and is capped
// at maxDelay.
func (b *backoffPolicy) nextDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.attempt
	b.attempt++

	capMs := float64(b.initialDelay.Milliseconds())
	// Guard against overflow for large n; once capMs reaches maxDelay it
	// never needs to grow further.
	maxMs := float64(b.maxDelay.Milliseconds())
	for i := int64(0); i < n && capMs < maxMs; i++ {
		capMs *= 2
	}
	if capMs > maxMs {
		capMs = maxMs
	}
	if capMs < 0 {
		capMs = 0
	}

	capDur := int64(capMs)
	var j int64
	if capDur > 0 {
		j = b.rand.Int63n(capDur)
	}
	delayMs := capDur/2 + j/2
	return time.Duration(delayMs) * time.Millisecond
}

// reset sets the attempt counter to zero, e.g. after a connection stayed
// Open at least backoff_reset_threshold.
func (b *backoffPolicy) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// setBaseDelay replaces the base initial_retry_delay_ms used by nextDelay,
// applied when the parser yields a SetRetryDelayEvent.
func (b *backoffPolicy) setBaseDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d < 0 {
		d = 0
	}
	b.initialDelay = d
}
