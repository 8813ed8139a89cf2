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
	"errors"
	"time"
)

// Default buffer size for reads off the wire, per spec §3 ("read_buffer_size
// (default ≈ 4 KiB)").
const DefaultReadBufferSize = 4 * 1024

// ErrMissingURI is returned by Configure when no origin URI is supplied. It
// is the only illegal input to the builder; all numeric inputs are clamped.
// Configure can also fail with ErrMissingConnectStrategy.
var ErrMissingURI = errors.New("eventsource: origin URI is required")

// Config is the validated, immutable parameter bundle consumed by the Stream
// Client on construction (spec §4.G). Build one with Configure.
type Config struct {
	uri string

	initialRetryDelay     time.Duration
	maxRetryDelay         time.Duration
	backoffResetThreshold time.Duration

	readTimeout         time.Duration
	responseStartTimeout time.Duration

	lastEventID string

	errorStrategy ErrorStrategy

	readBufferSize  int
	streamEventData bool

	connectStrategy ConnectStrategy
	logger          Logger
}

// URI returns the origin the stream connects to.
func (c *Config) URI() string { return c.uri }

// ConfigOption mutates a Config under construction. Unset options fall back
// to the documented defaults; every numeric option clamps out-of-range
// input instead of failing, matching spec §4.G ("All numeric out-of-range
// inputs are silently clamped to the nearest legal value").
type ConfigOption func(*Config)

// WithInitialRetryDelay sets the starting backoff base. Negative values
// clamp to zero.
func WithInitialRetryDelay(d time.Duration) ConfigOption {
	return func(c *Config) { c.initialRetryDelay = clampNonNegative(d) }
}

// WithMaxRetryDelay sets the backoff ceiling. Values below the (possibly
// defaulted) initial delay clamp up to it.
func WithMaxRetryDelay(d time.Duration) ConfigOption {
	return func(c *Config) { c.maxRetryDelay = clampNonNegative(d) }
}

// WithBackoffResetThreshold sets how long a connection must stay Open before
// the attempt counter resets.
func WithBackoffResetThreshold(d time.Duration) ConfigOption {
	return func(c *Config) { c.backoffResetThreshold = clampNonNegative(d) }
}

// WithReadTimeout bounds the gap between reads on a live connection. Zero
// disables the timeout.
func WithReadTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.readTimeout = clampNonNegative(d) }
}

// WithResponseStartTimeout bounds the time to receive response headers.
// Zero disables the timeout.
func WithResponseStartTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.responseStartTimeout = clampNonNegative(d) }
}

// WithLastEventID seeds the first request's Last-Event-ID header.
func WithLastEventID(id string) ConfigOption {
	return func(c *Config) { c.lastEventID = id }
}

// WithErrorStrategy installs the policy that decides, per fault, whether to
// surface it to the caller or continue reconnecting transparently. Defaults
// to AlwaysContinue.
func WithErrorStrategy(s ErrorStrategy) ConfigOption {
	return func(c *Config) {
		if s != nil {
			c.errorStrategy = s
		}
	}
}

// WithReadBufferSize sets the size of the parser's buffered reader.
// Values below 64 bytes clamp up to 64.
func WithReadBufferSize(n int) ConfigOption {
	return func(c *Config) {
		if n < 64 {
			n = 64
		}
		c.readBufferSize = n
	}
}

// WithStreamEventData enables streaming-data mode: MessageEvent.Chunks is
// populated as an incremental reader instead of MessageEvent.Data being
// fully buffered.
func WithStreamEventData(stream bool) ConfigOption {
	return func(c *Config) { c.streamEventData = stream }
}

// WithConnectStrategy installs the capability used to open each connection.
// If omitted, Configure falls back to DefaultConnectStrategyFactory, which
// pkg/transport registers on import; Configure fails if neither is present.
func WithConnectStrategy(s ConnectStrategy) ConfigOption {
	return func(c *Config) {
		if s != nil {
			c.connectStrategy = s
		}
	}
}

// DefaultConnectStrategyFactory builds the ConnectStrategy used when a
// Config is constructed without WithConnectStrategy. It is nil until
// something registers one; pkg/transport does so in an init func, the same
// side-effecting-import pattern the teacher's pkg/adapter uses to register
// its REST adapter. Kept as a package variable (not an import) so this
// package never depends on net/http.
var DefaultConnectStrategyFactory func(uri string) ConnectStrategy

// ErrMissingConnectStrategy is returned by Configure when the caller did not
// supply a ConnectStrategy and no default has been registered (typically
// because nothing imported pkg/transport).
var ErrMissingConnectStrategy = errors.New("eventsource: no ConnectStrategy configured and no default registered (import pkg/transport or call WithConnectStrategy)")

// WithLogger installs the logging capability. Defaults to a no-op logger.
func WithLogger(l Logger) ConfigOption {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Configure builds an immutable Config for the given origin URI. Every
// numeric option is clamped to a legal value. Construction fails with
// ErrMissingURI for an empty uri, and with ErrMissingConnectStrategy when no
// ConnectStrategy was supplied and no default is registered.
func Configure(uri string, opts ...ConfigOption) (*Config, error) {
	if uri == "" {
		return nil, ErrMissingURI
	}

	c := &Config{
		uri:                   uri,
		initialRetryDelay:     DefaultInitialRetryDelay,
		maxRetryDelay:         DefaultMaxRetryDelay,
		backoffResetThreshold: DefaultBackoffResetThreshold,
		readBufferSize:        DefaultReadBufferSize,
		errorStrategy:         AlwaysContinue(),
		logger:                noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetryDelay < c.initialRetryDelay {
		c.maxRetryDelay = c.initialRetryDelay
	}
	if c.connectStrategy == nil {
		if DefaultConnectStrategyFactory == nil {
			return nil, ErrMissingConnectStrategy
		}
		c.connectStrategy = DefaultConnectStrategyFactory(uri)
	}
	return c, nil
}

func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
