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
	"context"
	"io"
)

// ConnectParams carries everything a ConnectStrategy needs to open one
// connection attempt.
type ConnectParams struct {
	// LastEventID is sent as the Last-Event-ID header iff non-empty.
	LastEventID string
}

// ConnectResult is what a successful connect() call yields: a readable
// stream of the response body, a closer that releases the underlying
// socket/resources, and the origin URI actually connected to (which may
// differ from the configured URI after a redirect).
type ConnectResult struct {
	Body   io.Reader
	Closer io.Closer
	Origin string
}

// ConnectStrategy is the capability the Stream Client uses to open one HTTP
// response. The core never interprets a strategy's internal configuration;
// it only calls Connect and interprets the error taxonomy in errors.go.
//
// Implementations own any HTTP client they create and must respect ctx
// cancellation (propagated from the Stream Client's cancellation token, see
// spec §5) for both the dial/response-start phase and any internal retry of
// that phase.
type ConnectStrategy interface {
	Connect(ctx context.Context, params ConnectParams) (*ConnectResult, error)
}

// ConnectStrategyFunc adapts a function to a ConnectStrategy.
type ConnectStrategyFunc func(ctx context.Context, params ConnectParams) (*ConnectResult, error)

// Connect calls f.
func (f ConnectStrategyFunc) Connect(ctx context.Context, params ConnectParams) (*ConnectResult, error) {
	return f(ctx, params)
}
