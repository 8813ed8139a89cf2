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

// Package transport provides the default HTTP ConnectStrategy for
// github.com/ivcap-works/go-eventsource, opening and validating one SSE
// response per connect attempt. It registers itself as
// eventsource.DefaultConnectStrategyFactory on import, the same
// side-effecting-import convention the teacher used to make RestAdapter
// discoverable from cmd without an explicit wiring call.
package transport

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ivcap-works/go-eventsource/pkg/eventsource"
)

func init() {
	eventsource.DefaultConnectStrategyFactory = func(uri string) eventsource.ConnectStrategy {
		return NewHTTPConnectStrategy(uri)
	}
}

const (
	defaultDialInitialInterval = 200 * time.Millisecond
	defaultDialMaxInterval     = 10 * time.Second
	defaultDialMaxElapsedTime  = 30 * time.Second
)

// HTTPConnectStrategy is the default eventsource.ConnectStrategy: it issues
// a GET request with the headers the SSE protocol requires, retries the
// connection phase itself (distinct from, and nested inside, the Stream
// Client's own reconnect loop) for a bounded window of transient dial
// failures, and classifies the outcome into the error taxonomy in
// pkg/eventsource/errors.go. Grounded on the teacher's pkg/adapter/sse.go
// SeeClient.Run (header construction, content-type/status validation) and
// pkg/adapter/adapter.go's doWithRetry (cenkalti/backoff/v4-based retry of
// the dial phase only, not the full request lifecycle).
type HTTPConnectStrategy struct {
	// URL is the SSE endpoint.
	URL string
	// Header carries default headers applied to every request, e.g.
	// Authorization. Accept and Cache-Control are always set by Connect and
	// cannot be overridden here; Last-Event-ID is replaced by Connect
	// whenever ConnectParams carries a non-empty id.
	Header http.Header
	// Body, when non-nil, is sent as the request body with Method; Method
	// is not changed by setting Body.
	Body io.Reader
	// Method defaults to GET.
	Method string
	// Client is the http.Client used for each attempt. A client with no
	// Timeout is used by default since streaming responses have no fixed
	// duration; response-start timeouts are the Stream Client's job
	// (eventsource.WithResponseStartTimeout), not this client's.
	Client *http.Client
	// DialRetry bounds how long Connect retries a failed dial/handshake
	// before giving up and returning the error to the Stream Client's own
	// backoff. Zero disables the retry: the first dial failure is returned
	// immediately.
	DialRetry time.Duration

	Logger eventsource.Logger
}

// NewHTTPConnectStrategy builds an HTTPConnectStrategy for url with the
// package defaults: GET, no extra headers, a bounded dial retry.
func NewHTTPConnectStrategy(url string) *HTTPConnectStrategy {
	return &HTTPConnectStrategy{
		URL:       url,
		Header:    make(http.Header),
		Method:    http.MethodGet,
		Client:    &http.Client{},
		DialRetry: defaultDialMaxElapsedTime,
		Logger:    eventsource.NewZapLogger(nil),
	}
}

// Connect implements eventsource.ConnectStrategy.
func (h *HTTPConnectStrategy) Connect(ctx context.Context, params eventsource.ConnectParams) (*eventsource.ConnectResult, error) {
	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := h.doWithRetry(ctx, method, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newTransportError(h.URL, err)
	}

	// Status is classified before Content-Type: an error response's body is
	// rarely text/event-stream (an error page, or no body at all on 204),
	// and spec §8 scenario 6 expects HttpErrorStatus(500) from a plain 500,
	// not a ContentTypeError from its incidental content type.
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.StatusCode == http.StatusNoContent {
		body := limitedRead(resp.Body, 2048)
		resp.Body.Close()
		return nil, newHTTPErrorStatus(h.URL, resp.StatusCode, body)
	}

	ct := resp.Header.Get("Content-Type")
	mediaType, params2, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(ct))
		params2 = map[string]string{}
	}
	if mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, newContentTypeError(h.URL, ct, params2["charset"])
	}
	if enc, ok := params2["charset"]; ok && !strings.EqualFold(enc, "utf-8") {
		resp.Body.Close()
		return nil, newContentTypeError(h.URL, ct, enc)
	}

	h.Logger.Debug("http connect strategy opened stream",
		zap.String("url", h.URL), zap.Int("status", resp.StatusCode))

	return &eventsource.ConnectResult{
		Body:   resp.Body,
		Closer: resp.Body,
		Origin: resp.Request.URL.String(),
	}, nil
}

// doWithRetry issues one request, retrying only the dial/handshake phase
// (errors from client.Do before any response is received) with
// cenkalti/backoff/v4. A response that was received, even an error status,
// is returned as-is for Connect to classify; retrying after receiving a
// definitive answer from the server is the Stream Client's job, not this
// strategy's.
func (h *HTTPConnectStrategy) doWithRetry(ctx context.Context, method string, params eventsource.ConnectParams) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(defaultDialInitialInterval),
		backoff.WithMaxInterval(defaultDialMaxInterval),
		backoff.WithMaxElapsedTime(h.DialRetry),
	)
	var policy backoff.BackOff = bo
	if h.DialRetry <= 0 {
		// ExponentialBackOff treats a zero MaxElapsedTime as "never stop".
		policy = &backoff.StopBackOff{}
	}
	boCtx := backoff.WithContext(policy, ctx)

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, h.URL, h.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		h.applyHeaders(req, params)

		client := h.Client
		if client == nil {
			client = &http.Client{}
		}
		r, err := client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, boCtx); err != nil {
		return nil, err
	}
	return resp, nil
}

// applyHeaders sets the headers spec §6 requires for every SSE request:
// Accept, Cache-Control always; Last-Event-ID iff non-empty; any
// caller-supplied headers carried over without duplication.
func (h *HTTPConnectStrategy) applyHeaders(req *http.Request, params eventsource.ConnectParams) {
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if params.LastEventID != "" {
		req.Header.Set("Last-Event-ID", params.LastEventID)
	}
}

func limitedRead(r io.Reader, limit int64) string {
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(b)
}

func newTransportError(uri string, cause error) error {
	return eventsource.NewTransportError(uri, cause)
}

func newContentTypeError(uri, ct, enc string) error {
	return eventsource.NewContentTypeError(uri, ct, enc)
}

func newHTTPErrorStatus(uri string, status int, body string) error {
	return eventsource.NewHTTPErrorStatusError(uri, status, body)
}
