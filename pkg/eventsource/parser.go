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
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

// Parser incrementally turns an octet stream into a lazy sequence of typed
// Events, implementing the SSE dispatch algorithm from spec §4.B exactly:
// line extraction tolerant of \n, \r and \r\n; per-event buffers for event
// name and data; a last-event-id that persists across events within one
// connection; and case-sensitive field-name comparison.
type Parser struct {
	r      *bufio.Reader
	origin string

	bufSize int
	stream  bool

	eventName   string
	dataBuf     bytes.Buffer
	lastEventID string

	pendingPipe  *io.PipeWriter
	streamDone   chan struct{}
	streamEvName string
	streamEvID   string
}

// NewParser constructs a Parser reading from r. initialLastEventID seeds the
// carried-over id so a Message dispatched before any "id:" line still
// reflects a value supplied by the caller's Configuration (spec §3).
func NewParser(r io.Reader, origin string, initialLastEventID string, cfg *Config) *Parser {
	bufSize := DefaultReadBufferSize
	stream := false
	if cfg != nil {
		if cfg.readBufferSize > 0 {
			bufSize = cfg.readBufferSize
		}
		stream = cfg.streamEventData
	}
	return &Parser{
		r:           bufio.NewReaderSize(r, bufSize),
		origin:      origin,
		bufSize:     bufSize,
		stream:      stream,
		lastEventID: initialLastEventID,
	}
}

// Next returns the next Event. A clean EOF, i.e. the server closed the
// connection, is reported as *ClosedByServerError and any other read
// failure as *TransportError; both carry the origin URI.
//
// Next returns (nil, err) once the stream ends or a read error occurs.
// Every other value is returned as (Event, nil).
func (p *Parser) Next() (Event, error) {
	if p.streamDone != nil {
		<-p.streamDone
		p.streamDone = nil
	}

	for {
		line, err := p.readLine()
		if err != nil {
			if p.pendingPipe != nil {
				_ = p.pendingPipe.CloseWithError(newIncompleteMessage(p.origin))
				p.pendingPipe = nil
			}
			if err == io.EOF {
				return nil, newClosedByServer(p.origin)
			}
			return nil, newTransportError(p.origin, err)
		}

		switch {
		case len(line) == 0:
			if ev, ok := p.dispatch(); ok {
				return ev, nil
			}
			continue
		case line[0] == ':':
			return CommentEvent{Text: string(line[1:])}, nil
		default:
			field, value := splitField(line)
			if ev, ok, emit := p.handleField(field, value); emit {
				return ev, nil
			} else if ok {
				continue
			}
		}
	}
}

// dispatch materializes a buffered event on a blank line, per spec §4.B.
// Returns ok=false when there is nothing to dispatch (data buffer empty),
// in which case only the event name is cleared.
func (p *Parser) dispatch() (Event, bool) {
	if p.dataBuf.Len() == 0 {
		p.eventName = ""
		return nil, false
	}
	name := p.eventName
	if name == "" {
		name = "message"
	}
	data := strings.TrimSuffix(p.dataBuf.String(), "\n")
	ev := MessageEvent{
		Name:        name,
		Data:        data,
		LastEventID: p.lastEventID,
		Origin:      p.origin,
	}
	p.eventName = ""
	p.dataBuf.Reset()
	return ev, true
}

// handleField applies one non-blank, non-comment line. The middle return
// value reports whether the field was recognized (true) or should simply be
// ignored (false, "any other name"); the last reports whether an Event
// should be returned to the caller immediately (streaming mode's first data
// line, or a retry directive).
func (p *Parser) handleField(field, value string) (Event, bool, bool) {
	switch field {
	case "event":
		p.eventName = value
		return nil, true, false
	case "data":
		// By the time handleField runs, any previous streaming message's
		// pipe has already been drained to completion by Next's wait on
		// streamDone, so pendingPipe is always nil here.
		if p.stream && p.dataBuf.Len() == 0 {
			return p.startStreamingMessage(value), true, true
		}
		p.dataBuf.WriteString(value)
		p.dataBuf.WriteByte('\n')
		return nil, true, false
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.lastEventID = value
		}
		return nil, true, false
	case "retry":
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return SetRetryDelayEvent{Duration: time.Duration(n) * time.Millisecond}, true, true
		}
		return nil, true, false
	default:
		return nil, false, false
	}
}

// startStreamingMessage emits a MessageEvent whose Chunks reader is fed by a
// background goroutine that keeps consuming "data:" lines (and the blank
// line that ends the event) from the underlying reader. Next() blocks on
// streamDone before reading any further line, so the underlying *bufio.Reader
// is never read from two goroutines concurrently.
func (p *Parser) startStreamingMessage(firstValue string) Event {
	pr, pw := io.Pipe()
	p.pendingPipe = pw
	p.streamDone = make(chan struct{})
	p.streamEvName = p.eventName
	p.streamEvID = p.lastEventID

	name := p.streamEvName
	if name == "" {
		name = "message"
	}
	ev := MessageEvent{
		Name:        name,
		Chunks:      pr,
		LastEventID: p.streamEvID,
		Origin:      p.origin,
	}
	// Pipe writes block until the caller reads Chunks, so the first value is
	// written from the background goroutine, not before ev is returned.
	done := p.streamDone
	go func() {
		_, _ = pw.Write([]byte(firstValue))
		_, _ = pw.Write([]byte("\n"))
		p.drainStreamingMessage(done)
	}()
	return ev
}

// drainStreamingMessage reads lines until the event's blank-line terminator
// (closing Chunks cleanly) or until an error/EOF (closing Chunks with
// IncompleteMessageError). It signals done either way.
func (p *Parser) drainStreamingMessage(done chan struct{}) {
	defer close(done)
	for {
		line, err := p.readLine()
		if err != nil {
			_ = p.pendingPipe.CloseWithError(newIncompleteMessage(p.origin))
			p.pendingPipe = nil
			return
		}
		if len(line) == 0 {
			_ = p.pendingPipe.Close()
			p.pendingPipe = nil
			p.eventName = ""
			return
		}
		if line[0] == ':' {
			continue
		}
		field, value := splitField(line)
		switch field {
		case "data":
			_, _ = p.pendingPipe.Write([]byte(value))
			_, _ = p.pendingPipe.Write([]byte("\n"))
		case "id":
			if !strings.ContainsRune(value, 0) {
				p.lastEventID = value
			}
		case "event", "retry":
			// A second event/retry field within a streaming message is
			// unusual but not invalid; event name no longer matters once
			// Chunks has been handed out, retry is dropped rather than
			// surfaced out of order.
		}
	}
}

// readLine reads one line, recognizing \n, \r and \r\n as terminators; \r\n
// is consumed as a single terminator, not two. The returned slice is only
// valid until the next call to readLine.
func (p *Parser) readLine() ([]byte, error) {
	var buf []byte
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			if len(buf) > 0 && err == io.EOF {
				return buf, nil
			}
			return nil, err
		}
		if b == '\n' {
			return buf, nil
		}
		if b == '\r' {
			next, err := p.r.Peek(1)
			if err == nil && len(next) == 1 && next[0] == '\n' {
				_, _ = p.r.Discard(1)
			}
			return buf, nil
		}
		buf = append(buf, b)
	}
}

// splitField splits a non-empty, non-comment line at the first ':'. A line
// without ':' has the whole line as the field name and an empty value; one
// optional leading space on the value is stripped.
func splitField(line []byte) (field, value string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	field = string(line[:idx])
	rest := line[idx+1:]
	if len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return field, string(rest)
}
