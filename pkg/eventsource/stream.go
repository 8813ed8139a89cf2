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
	"sync"
	"time"

	"go.uber.org/zap"
)

// connResult is what the background connector goroutine reports back: either
// a freshly opened connection or a fault from trying to open one.
type connResult struct {
	result *ConnectResult
	err    error
}

// parserResult is one value pulled off the active parser.
type parserResult struct {
	event Event
	err   error
}

// Stream is the Stream Client of spec §4.E: the state machine that wires the
// Backoff Policy, Event Parser, ConnectStrategy and ErrorStrategy together,
// exposing a pull API and owning the reconnect loop. The goroutine/channel
// shape (dedicated reader goroutine per connection, cancellation via closing
// a channel) follows the teacher's pkg/adapter/sse.go SeeClient.Run loop and
// the LaunchDarkly reference Stream.stream, adapted to the spec's explicit
// Ready State machine.
type Stream struct {
	cfg    *Config
	logger Logger

	backoff *backoffPolicy

	mu          sync.Mutex
	state       ReadyState
	lastEventID string
	connections int
	openedAt    time.Time

	firstAttempt bool

	// parser/connection state for the current Open connection, guarded by mu.
	closer       ioCloser
	parserEvents chan parserResult
	connCancel   context.CancelFunc

	restart   chan struct{}
	interrupt chan struct{}
	closed    chan struct{}
	once      sync.Once
}

// ioCloser is the subset of io.Closer the Stream Client depends on; kept as
// an alias so stream.go does not need to import io solely for this.
type ioCloser interface {
	Close() error
}

// NewStream constructs a Stream Client in state Raw. It does not connect
// until the first call to ReadAnyEvent or ReadMessage.
func NewStream(cfg *Config) *Stream {
	s := &Stream{
		cfg:          cfg,
		logger:       cfg.logger,
		backoff:      newBackoffPolicy(cfg.initialRetryDelay, cfg.maxRetryDelay),
		state:        Raw,
		lastEventID:  cfg.lastEventID,
		firstAttempt: true,
		restart:      make(chan struct{}, 1),
		interrupt:    make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
	return s
}

// State returns the current Ready State.
func (s *Stream) State() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setStateLocked moves to next, logging instead of panicking if the
// transition isn't one canTransition allows; apart from StartAsync (Raw to
// Connecting) and Close (to Shutdown), the read loop is the only writer of
// s.state and is always single-threaded per Stream, so a rejected
// transition would indicate a bug in the loop itself rather than a race.
func (s *Stream) setStateLocked(next ReadyState) {
	if !s.state.canTransition(next) {
		s.logger.Warn("illegal ready state transition",
			zap.String("from", s.state.String()), zap.String("to", next.String()))
	}
	s.state = next
}

// StartAsync transitions Raw to Connecting without consuming an event. It is
// idempotent if the client is already non-terminal; the actual connect
// happens lazily on the first ReadAnyEvent/ReadMessage call, same as if StartAsync
// had never been called.
func (s *Stream) StartAsync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Raw {
		s.setStateLocked(Connecting)
	}
}

// Interrupt forces the current connection closed; the next read causes a
// reconnect, subject to backoff. An outstanding ReadAnyEvent call observes
// this as a ClosedByCallerError (spec §5); the call after that reconnects.
// Safe for concurrent use.
func (s *Stream) Interrupt() {
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
	s.mu.Lock()
	closer := s.closer
	cancel := s.connCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
}

// Restart is equivalent to Interrupt but also resets the backoff counter so
// the next connect attempt runs with zero delay. Safe for concurrent use.
func (s *Stream) Restart() {
	s.backoff.reset()
	s.mu.Lock()
	s.firstAttempt = true
	s.mu.Unlock()
	select {
	case s.restart <- struct{}{}:
	default:
	}
	s.Interrupt()
}

// Close transitions to Shutdown, cancels any outstanding read, and releases
// the HTTP response. Safe for concurrent use and idempotent.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.setStateLocked(Shutdown)
		closer := s.closer
		cancel := s.connCancel
		s.mu.Unlock()
		close(s.closed)
		if cancel != nil {
			cancel()
		}
		if closer != nil {
			_ = closer.Close()
		}
	})
}

// ReadAnyEvent is the primitive pull API: it returns the next Event, which
// may be StartedEvent, MessageEvent, CommentEvent, SetRetryDelayEvent or
// FaultEvent. At most one call may be outstanding at a time (spec §5).
func (s *Stream) ReadAnyEvent(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()

		switch state {
		case Shutdown:
			return nil, &ClosedByCallerError{}
		case Raw, Closed, Connecting:
			// Connecting is seen here after StartAsync, or after a
			// connectStep whose backoff sleep was aborted; either way the
			// connect attempt is (re)started from this read.
			ev, err := s.connectStep(ctx, state)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				return ev, nil
			}
			continue
		case Open:
			ev, done, err := s.openStep(ctx)
			if err != nil {
				return nil, err
			}
			if done {
				return ev, nil
			}
			continue
		}
	}
}

// ReadMessage is a convenience over ReadAnyEvent that drops everything but
// MessageEvent.
func (s *Stream) ReadMessage(ctx context.Context) (MessageEvent, error) {
	for {
		ev, err := s.ReadAnyEvent(ctx)
		if err != nil {
			return MessageEvent{}, err
		}
		if msg, ok := ev.(MessageEvent); ok {
			return msg, nil
		}
	}
}

// connectStep implements read-loop step 2 of spec §4.E: sleep for the
// backoff delay (skipped on the very first attempt), connect, and on
// success transition to Open and return StartedEvent. On failure it
// consults the ErrorStrategy and either returns a FaultEvent (Continue) or
// fails the read (Throw).
func (s *Stream) connectStep(ctx context.Context, from ReadyState) (Event, error) {
	s.mu.Lock()
	if s.state != Connecting {
		s.setStateLocked(Connecting)
	}
	firstAttempt := s.firstAttempt
	s.firstAttempt = false
	lastEventID := s.lastEventID
	s.mu.Unlock()

	if !firstAttempt {
		delay := s.backoff.nextDelay()
		if !s.sleep(ctx, delay) {
			return nil, &ClosedByCallerError{}
		}
	} else {
		// Restart may have buffered a token into restart/interrupt to wake a
		// sleep() that this firstAttempt short-circuit never calls; drain
		// both here so they don't sit around and zero out the delay of some
		// later, unrelated sleep() between reconnect attempts.
		select {
		case <-s.restart:
		default:
		}
		select {
		case <-s.interrupt:
		default:
		}
	}

	connCtx, cancel := context.WithCancel(ctx)
	if s.cfg.responseStartTimeout > 0 {
		var timeoutCancel context.CancelFunc
		connCtx, timeoutCancel = context.WithTimeout(connCtx, s.cfg.responseStartTimeout)
		defer timeoutCancel()
	}
	s.mu.Lock()
	s.connCancel = cancel
	s.mu.Unlock()

	res, err := s.cfg.connectStrategy.Connect(connCtx, ConnectParams{LastEventID: lastEventID})
	if err != nil {
		s.mu.Lock()
		s.connCancel = nil
		s.setStateLocked(Closed)
		s.mu.Unlock()
		select {
		case <-s.closed:
			return nil, &ClosedByCallerError{}
		default:
		}
		if connCtx.Err() == context.Canceled {
			return nil, &ClosedByCallerError{}
		}
		if connCtx.Err() == context.DeadlineExceeded {
			return s.handleFault(newConnectionTimeout(s.cfg.uri))
		}
		return s.handleFault(err)
	}

	s.logger.Debug("stream connected", zap.String("origin", res.Origin))

	parser := NewParser(res.Body, res.Origin, lastEventID, s.cfg)
	events := make(chan parserResult, 1)
	go pumpParser(parser, events)

	s.mu.Lock()
	s.setStateLocked(Open)
	s.closer = res.Closer
	s.parserEvents = events
	s.connections++
	s.openedAt = time.Now()
	s.mu.Unlock()

	return StartedEvent{}, nil
}

// openStep implements read-loop step 3 of spec §4.E.
func (s *Stream) openStep(ctx context.Context) (Event, bool, error) {
	s.mu.Lock()
	events := s.parserEvents
	s.mu.Unlock()
	if events == nil {
		// Connection was torn down between the state check and here; loop
		// back to connectStep via the caller's outer for-loop.
		return nil, false, nil
	}

	var readTimeout <-chan time.Time
	var timer *time.Timer
	if s.cfg.readTimeout > 0 {
		timer = time.NewTimer(s.cfg.readTimeout)
		readTimeout = timer.C
		defer timer.Stop()
	}

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-s.closed:
		s.teardownConnection(nil)
		return nil, false, &ClosedByCallerError{}
	case <-s.interrupt:
		s.teardownConnection(nil)
		ev, err := s.handleFault(&ClosedByCallerError{})
		return ev, true, err
	case <-readTimeout:
		origin := s.currentOrigin()
		s.teardownConnection(nil)
		ev, err := s.handleFault(newReadTimeout(origin))
		return ev, true, err
	case pr := <-events:
		if pr.err != nil {
			s.teardownConnection(nil)
			ev, err := s.handleFault(pr.err)
			return ev, true, err
		}
		if retry, ok := pr.event.(SetRetryDelayEvent); ok {
			s.backoff.setBaseDelay(retry.Duration)
			return retry, true, nil
		}
		if msg, ok := pr.event.(MessageEvent); ok {
			s.mu.Lock()
			s.lastEventID = msg.LastEventID
			s.mu.Unlock()
		}
		return pr.event, true, nil
	}
}

// handleFault resets the backoff counter if the connection was Open long
// enough, then consults the ErrorStrategy.
func (s *Stream) handleFault(err error) (Event, error) {
	// openedAt belongs to the connection this fault ends; clearing it keeps
	// a later connect failure from being measured against it.
	s.mu.Lock()
	openedAt := s.openedAt
	s.openedAt = time.Time{}
	s.mu.Unlock()

	if _, ok := err.(*ClosedByCallerError); ok {
		return nil, err
	}

	if !openedAt.IsZero() && time.Since(openedAt) >= s.cfg.backoffResetThreshold {
		s.backoff.reset()
	}

	switch s.cfg.errorStrategy.Apply(err) {
	case Throw:
		return nil, err
	default:
		return FaultEvent{Err: err}, nil
	}
}

// teardownConnection releases the current connection's resources and moves
// to Closed. If reason is non-nil it is only used for logging.
func (s *Stream) teardownConnection(reason error) {
	s.mu.Lock()
	closer := s.closer
	cancel := s.connCancel
	s.closer = nil
	s.connCancel = nil
	s.parserEvents = nil
	if s.state != Shutdown {
		s.setStateLocked(Closed)
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	if reason != nil {
		s.logger.Debug("stream connection torn down", zap.Error(reason))
	}
}

func (s *Stream) currentOrigin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return s.cfg.uri
	}
	return ""
}

// sleep blocks for d or until ctx is cancelled, the client is closed, or a
// restart is requested. Returns false if the sleep was aborted by
// close/cancellation (but true on restart, since restart means "reconnect
// now").
func (s *Stream) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.closed:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.restart:
		return true
	case <-s.interrupt:
		return true
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// pumpParser drains p into ch until a terminal error. It is the single
// goroutine that may call p.Next at any given time, matching the Stream
// Client's single-outstanding-read invariant.
func pumpParser(p *Parser, ch chan<- parserResult) {
	for {
		ev, err := p.Next()
		ch <- parserResult{event: ev, err: err}
		if err != nil {
			return
		}
	}
}
