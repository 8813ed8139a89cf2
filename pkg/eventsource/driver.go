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
	"fmt"

	"go.uber.org/zap"
)

// Handler receives callbacks from a Driver. Every method is optional; a nil
// field is simply skipped. Callbacks run on the Driver's own goroutine, one
// at a time, in event order: the Driver awaits each call before pulling the
// next event off the Stream, so a slow OnMessage naturally applies
// backpressure to the reconnect loop same as a slow pull-API consumer would
// (spec §4.F).
type Handler struct {
	OnOpen    func(state ReadyState)
	OnClosed  func(state ReadyState)
	OnMessage func(msg MessageEvent)
	OnComment func(text string)
	OnRetry   func(delay int64)
	OnError   func(err error)
}

// Driver is the push consumption model of spec §4.F: a thin wrapper around
// the Stream Client's pull API that runs the read loop on a dedicated
// goroutine and fans events out to a Handler. It is grounded on the
// teacher's cmd/job.go streamJobResults loop (read-dispatch-repeat over a
// channel of SSE events) generalized from one hardcoded callback to the
// full Handler set.
type Driver struct {
	stream  *Stream
	handler Handler
	logger  Logger

	done chan struct{}
}

// NewDriver wraps stream with a background read loop that invokes handler
// for every event the stream produces. The loop starts immediately; call
// Close to stop it (this also closes the underlying Stream).
func NewDriver(stream *Stream, handler Handler) *Driver {
	d := &Driver{
		stream:  stream,
		handler: handler,
		logger:  stream.logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Close stops the Driver's read loop and the underlying Stream, and blocks
// until the loop goroutine has exited.
func (d *Driver) Close() {
	d.stream.Close()
	<-d.done
}

func (d *Driver) run() {
	defer close(d.done)
	ctx := context.Background()
	for {
		ev, err := d.stream.ReadAnyEvent(ctx)
		if err != nil {
			if _, ok := err.(*ClosedByCallerError); !ok {
				// Only reached when the ErrorStrategy threw instead of
				// continuing; the Stream does not reconnect on its own
				// after this, so report the error before closing.
				d.dispatchError(err)
			}
			d.dispatchClosed()
			return
		}
		d.dispatch(ev)
	}
}

// dispatch fans one event out to the matching Handler callback, recovering
// from and reporting a panicking callback instead of taking the whole
// Driver goroutine down with it.
func (d *Driver) dispatch(ev Event) {
	defer d.recoverCallback("handler")

	switch e := ev.(type) {
	case StartedEvent:
		if d.handler.OnOpen != nil {
			d.handler.OnOpen(d.stream.State())
		}
	case MessageEvent:
		if d.handler.OnMessage != nil {
			d.handler.OnMessage(e)
		}
	case CommentEvent:
		if d.handler.OnComment != nil {
			d.handler.OnComment(e.Text)
		}
	case SetRetryDelayEvent:
		if d.handler.OnRetry != nil {
			d.handler.OnRetry(e.Duration.Milliseconds())
		}
	case FaultEvent:
		d.dispatchError(e.Err)
		if d.handler.OnClosed != nil {
			d.handler.OnClosed(d.stream.State())
		}
	}
}

func (d *Driver) dispatchClosed() {
	if d.handler.OnClosed != nil {
		func() {
			defer d.recoverCallback("OnClosed")
			d.handler.OnClosed(Shutdown)
		}()
	}
}

// dispatchError calls OnError, guarding against a throwing OnError itself:
// that failure is only logged, never re-reported, to avoid an error-handler
// recursion loop.
func (d *Driver) dispatchError(err error) {
	if d.handler.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("driver: OnError callback panicked", zap.Any("panic", r))
		}
	}()
	d.handler.OnError(err)
}

func (d *Driver) recoverCallback(which string) {
	if r := recover(); r != nil {
		err := fmt.Errorf("driver: %s callback panicked: %v", which, r)
		d.logger.Error(err.Error())
		d.dispatchError(err)
	}
}
