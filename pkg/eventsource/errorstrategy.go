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

import "sync/atomic"

// ErrorDecision is the verdict an ErrorStrategy returns for a fault.
type ErrorDecision int

const (
	// Continue wraps the error in a FaultEvent and lets the Stream Client
	// reconnect on the next read.
	Continue ErrorDecision = iota
	// Throw fails the current read with the error.
	Throw
)

// ErrorStrategy is the pluggable policy consulted on every fault except
// ClosedByCallerError, which always bypasses it (spec §4.D, §7).
type ErrorStrategy interface {
	Apply(err error) ErrorDecision
}

// ErrorStrategyFunc adapts a function to an ErrorStrategy.
type ErrorStrategyFunc func(err error) ErrorDecision

// Apply calls f.
func (f ErrorStrategyFunc) Apply(err error) ErrorDecision { return f(err) }

// AlwaysThrow surfaces every fault to the caller.
func AlwaysThrow() ErrorStrategy {
	return ErrorStrategyFunc(func(error) ErrorDecision { return Throw })
}

// AlwaysContinue turns every fault into a FaultEvent, after which the
// Stream Client reconnects. This is the default.
func AlwaysContinue() ErrorStrategy {
	return ErrorStrategyFunc(func(error) ErrorDecision { return Continue })
}

// ContinueForFirst continues transparently for the first n faults observed
// by the returned strategy, then throws on every fault thereafter. A fresh
// counter is created per call, so each Stream needs its own instance (see
// spec §9 "earlier versions of the source used a process-wide attempt
// counter (a bug)").
func ContinueForFirst(n int) ErrorStrategy {
	var seen int64
	limit := int64(n)
	return ErrorStrategyFunc(func(error) ErrorDecision {
		if atomic.AddInt64(&seen, 1) <= limit {
			return Continue
		}
		return Throw
	})
}
