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

package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ivcap-works/go-eventsource/pkg/eventsource"
)

func TestHTTPConnectStrategySetsRequiredHeaders(t *testing.T) {
	var gotAccept, gotCacheControl, gotLastEventID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotCacheControl = r.Header.Get("Cache-Control")
		gotLastEventID = r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: hi\n\n"))
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	res, err := h.Connect(context.Background(), eventsource.ConnectParams{LastEventID: "42"})
	if err != nil {
		t.Fatalf("Connect - %v", err)
	}
	defer res.Closer.Close()

	if gotAccept != "text/event-stream" {
		t.Fatalf("expected Accept: text/event-stream, got %q", gotAccept)
	}
	if gotCacheControl != "no-cache" {
		t.Fatalf("expected Cache-Control: no-cache, got %q", gotCacheControl)
	}
	if gotLastEventID != "42" {
		t.Fatalf("expected Last-Event-ID: 42, got %q", gotLastEventID)
	}
}

func TestHTTPConnectStrategyOmitsLastEventIDWhenEmpty(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["Last-Event-Id"]
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	res, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	if err != nil {
		t.Fatalf("Connect - %v", err)
	}
	defer res.Closer.Close()

	if sawHeader {
		t.Fatalf("did not expect a Last-Event-ID header when none was supplied")
	}
}

func TestHTTPConnectStrategyCarriesCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	h.Header.Set("Authorization", "Bearer xyz")
	res, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	if err != nil {
		t.Fatalf("Connect - %v", err)
	}
	defer res.Closer.Close()

	if gotAuth != "Bearer xyz" {
		t.Fatalf("expected custom Authorization header to be sent, got %q", gotAuth)
	}
}

func TestHTTPConnectStrategyRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not an event stream"))
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	_, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	if _, ok := err.(*eventsource.ContentTypeError); !ok {
		t.Fatalf("expected *eventsource.ContentTypeError, got %T (%v)", err, err)
	}
}

func TestHTTPConnectStrategyRejectsNonUTF8Charset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=iso-8859-1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	_, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	cte, ok := err.(*eventsource.ContentTypeError)
	if !ok {
		t.Fatalf("expected *eventsource.ContentTypeError, got %T (%v)", err, err)
	}
	if cte.Encoding != "iso-8859-1" {
		t.Fatalf("expected encoding 'iso-8859-1', got %q", cte.Encoding)
	}
}

func TestHTTPConnectStrategyClassifiesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try again later"))
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	_, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	statusErr, ok := err.(*eventsource.HttpErrorStatusError)
	if !ok {
		t.Fatalf("expected *eventsource.HttpErrorStatusError, got %T (%v)", err, err)
	}
	if statusErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", statusErr.Status)
	}
	if statusErr.Body != "try again later" {
		t.Fatalf("expected body to be captured, got %q", statusErr.Body)
	}
}

// TestHTTPConnectStrategyStatusTakesPriorityOverContentType pins spec §8
// scenario 6: an ordinary error response (html error page, no
// text/event-stream content type) must classify as HttpErrorStatusError, not
// ContentTypeError.
func TestHTTPConnectStrategyStatusTakesPriorityOverContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<html>error</html>"))
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	_, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	statusErr, ok := err.(*eventsource.HttpErrorStatusError)
	if !ok {
		t.Fatalf("expected *eventsource.HttpErrorStatusError, got %T (%v)", err, err)
	}
	if statusErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", statusErr.Status)
	}
}

// TestHTTPConnectStrategyNoContentStatusClassifiedAsHTTPError pins the
// DESIGN.md Open Question resolution: a 204 has no body/content-type and
// must still classify as HttpErrorStatusError(204), never ContentTypeError.
func TestHTTPConnectStrategyNoContentStatusClassifiedAsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	_, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	statusErr, ok := err.(*eventsource.HttpErrorStatusError)
	if !ok {
		t.Fatalf("expected *eventsource.HttpErrorStatusError, got %T (%v)", err, err)
	}
	if statusErr.Status != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", statusErr.Status)
	}
}

func TestHTTPConnectStrategyReturnsOriginFromResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	res, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	if err != nil {
		t.Fatalf("Connect - %v", err)
	}
	defer res.Closer.Close()
	if res.Origin != srv.URL {
		t.Fatalf("expected origin %q, got %q", srv.URL, res.Origin)
	}
}

func TestHTTPConnectStrategyBodyIsReadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: hi\n\n"))
	}))
	defer srv.Close()

	h := NewHTTPConnectStrategy(srv.URL)
	res, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	if err != nil {
		t.Fatalf("Connect - %v", err)
	}
	defer res.Closer.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading body - %v", err)
	}
	if string(b) != "data: hi\n\n" {
		t.Fatalf("expected 'data: hi\\n\\n', got %q", string(b))
	}
}

func TestHTTPConnectStrategyGivesUpAfterDialRetryElapses(t *testing.T) {
	// Port 0 never accepts connections; dialing it fails immediately and
	// repeatedly, exercising the bounded-retry path without a real timeout.
	h := NewHTTPConnectStrategy("http://127.0.0.1:0")
	h.DialRetry = 50 * time.Millisecond

	start := time.Now()
	_, err := h.Connect(context.Background(), eventsource.ConnectParams{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected an error connecting to a closed port")
	}
	if _, ok := err.(*eventsource.TransportError); !ok {
		t.Fatalf("expected *eventsource.TransportError, got %T (%v)", err, err)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("expected DialRetry to bound the retry window, took %s", elapsed)
	}
}

func TestHTTPConnectStrategyRespectsContextCancellation(t *testing.T) {
	h := NewHTTPConnectStrategy("http://127.0.0.1:0")
	h.DialRetry = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := h.Connect(ctx, eventsource.ConnectParams{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected an error after the context was cancelled")
	}
	if elapsed > 5*time.Second {
		t.Fatalf("expected cancellation to interrupt the retry promptly, took %s", elapsed)
	}
}

func TestDefaultConnectStrategyFactoryRegistersOnImport(t *testing.T) {
	if eventsource.DefaultConnectStrategyFactory == nil {
		t.Fatalf("expected importing pkg/transport to register DefaultConnectStrategyFactory")
	}
	strat := eventsource.DefaultConnectStrategyFactory("http://example.invalid")
	if _, ok := strat.(*HTTPConnectStrategy); !ok {
		t.Fatalf("expected *HTTPConnectStrategy, got %T", strat)
	}
}
