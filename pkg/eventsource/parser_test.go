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
	"io"
	"strings"
	"testing"
	"time"
)

// slowReader returns at most one byte per Read call, forcing the parser to
// reassemble lines across many short reads.
type slowReader struct {
	data []byte
	pos  int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func drainMessages(t *testing.T, p *Parser) []MessageEvent {
	t.Helper()
	var msgs []MessageEvent
	for {
		ev, err := p.Next()
		if err != nil {
			return msgs
		}
		if msg, ok := ev.(MessageEvent); ok {
			msgs = append(msgs, msg)
		}
	}
}

func TestParserBasicMessageDefaultsToNameMessage(t *testing.T) {
	input := "data: hello\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	msg, ok := ev.(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", ev)
	}
	if msg.Name != "message" {
		t.Fatalf("expected default name 'message', got %q", msg.Name)
	}
	if msg.Data != "hello" {
		t.Fatalf("expected data 'hello', got %q", msg.Data)
	}
}

func TestParserEventNameAndMultilineData(t *testing.T) {
	input := "event: update\ndata: line1\ndata: line2\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	msg := ev.(MessageEvent)
	if msg.Name != "update" {
		t.Fatalf("expected name 'update', got %q", msg.Name)
	}
	if msg.Data != "line1\nline2" {
		t.Fatalf("expected joined data, got %q", msg.Data)
	}
}

func TestParserIDCarriesAcrossEvents(t *testing.T) {
	input := "id: 1\ndata: a\n\ndata: b\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	msgs := drainMessages(t, p)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].LastEventID != "1" || msgs[1].LastEventID != "1" {
		t.Fatalf("expected id '1' to carry to second event, got %q and %q", msgs[0].LastEventID, msgs[1].LastEventID)
	}
}

func TestParserSeedsInitialLastEventID(t *testing.T) {
	input := "data: a\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "seed-id", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	if ev.(MessageEvent).LastEventID != "seed-id" {
		t.Fatalf("expected seeded id, got %q", ev.(MessageEvent).LastEventID)
	}
}

func TestParserFieldNamesAreCaseSensitive(t *testing.T) {
	input := "Event: update\nData: should-be-ignored\ndata: kept\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	msg := ev.(MessageEvent)
	if msg.Name != "message" {
		t.Fatalf("expected 'Event:' to be ignored (unknown field), got name %q", msg.Name)
	}
	if msg.Data != "kept" {
		t.Fatalf("expected only 'data:' line kept, got %q", msg.Data)
	}
}

func TestParserCommentLine(t *testing.T) {
	input := ": keep-alive\ndata: a\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	c, ok := ev.(CommentEvent)
	if !ok {
		t.Fatalf("expected CommentEvent, got %T", ev)
	}
	if c.Text != " keep-alive" {
		t.Fatalf("expected comment text ' keep-alive', got %q", c.Text)
	}
}

func TestParserRetryDirective(t *testing.T) {
	input := "retry: 7000\ndata: a\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	retry, ok := ev.(SetRetryDelayEvent)
	if !ok {
		t.Fatalf("expected SetRetryDelayEvent, got %T", ev)
	}
	if retry.Duration != 7000*time.Millisecond {
		t.Fatalf("expected 7s, got %s", retry.Duration)
	}
}

func TestParserRetryDirectiveIgnoresNonNumeric(t *testing.T) {
	input := "retry: soon\ndata: a\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	if _, ok := ev.(MessageEvent); !ok {
		t.Fatalf("expected invalid retry value to be dropped, got %T", ev)
	}
}

func TestParserLineTerminatorsAreEquivalent(t *testing.T) {
	variants := map[string]string{
		"lf":   "data: a\ndata: b\n\n",
		"cr":   "data: a\rdata: b\r\r",
		"crlf": "data: a\r\ndata: b\r\n\r\n",
	}
	var want string
	for name, input := range variants {
		p := NewParser(strings.NewReader(input), "http://origin", "", nil)
		ev, err := p.Next()
		if err != nil {
			t.Fatalf("%s: Next - %v", name, err)
		}
		got := ev.(MessageEvent).Data
		if want == "" {
			want = got
		} else if got != want {
			t.Fatalf("%s: expected data %q, got %q", name, want, got)
		}
	}
}

func TestParserChunkedVsWholeProduceIdenticalEvents(t *testing.T) {
	input := "event: update\nid: 9\ndata: chunked\n\n: comment\nretry: 150\ndata: two\n\n"

	whole := NewParser(strings.NewReader(input), "http://origin", "", nil)
	chunked := NewParser(&slowReader{data: []byte(input)}, "http://origin", "", nil)

	for i := 0; i < 4; i++ {
		wEv, wErr := whole.Next()
		cEv, cErr := chunked.Next()
		if (wErr == nil) != (cErr == nil) {
			t.Fatalf("step %d: error mismatch, whole=%v chunked=%v", i, wErr, cErr)
		}
		if wErr != nil {
			break
		}
		if wEv != cEv {
			t.Fatalf("step %d: events differ: whole=%#v chunked=%#v", i, wEv, cEv)
		}
	}
}

func TestParserUnknownFieldIsIgnoredEntirely(t *testing.T) {
	input := "unknown: whatever\ndata: a\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	if ev.(MessageEvent).Data != "a" {
		t.Fatalf("expected unknown field to be ignored, got %+v", ev)
	}
}

func TestParserBlankLineWithNoDataDispatchesNothing(t *testing.T) {
	input := "event: update\n\ndata: a\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	msg := ev.(MessageEvent)
	if msg.Name != "message" {
		t.Fatalf("expected the earlier bare 'event:' to be discarded, got name %q", msg.Name)
	}
}

func TestParserEOFMidStreamIsClosedByServer(t *testing.T) {
	input := "data: a\n\ndata: incomplete"
	p := NewParser(strings.NewReader(input), "http://origin", "", nil)
	if _, err := p.Next(); err != nil {
		t.Fatalf("first Next - %v", err)
	}
	_, err := p.Next()
	if _, ok := err.(*ClosedByServerError); !ok {
		t.Fatalf("expected *ClosedByServerError, got %T (%v)", err, err)
	}
}

func TestParserStreamingModeYieldsChunksIncrementally(t *testing.T) {
	input := "data: first\ndata: second\n\n"
	p := NewParser(strings.NewReader(input), "http://origin", "", &Config{streamEventData: true})
	ev, nerr := p.Next()
	if nerr != nil {
		t.Fatalf("Next - %v", nerr)
	}
	msg, ok := ev.(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", ev)
	}
	if msg.Chunks == nil {
		t.Fatalf("expected non-nil Chunks in streaming mode")
	}
	b, rerr := io.ReadAll(msg.Chunks)
	if rerr != nil {
		t.Fatalf("reading Chunks - %v", rerr)
	}
	if string(b) != "first\nsecond\n" {
		t.Fatalf("expected 'first\\nsecond\\n', got %q", string(b))
	}
}

func TestParserStreamingModeIncompleteOnConnectionDrop(t *testing.T) {
	input := "data: partial"
	p := NewParser(strings.NewReader(input), "http://origin", "", &Config{streamEventData: true})
	ev, err := p.Next()
	if err != nil {
		t.Fatalf("Next - %v", err)
	}
	msg := ev.(MessageEvent)
	_, rerr := io.ReadAll(msg.Chunks)
	if _, ok := rerr.(*IncompleteMessageError); !ok {
		t.Fatalf("expected *IncompleteMessageError, got %T (%v)", rerr, rerr)
	}
}
