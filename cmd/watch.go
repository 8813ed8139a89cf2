// Copyright 2025 Commonwealth Scientific and Industrial Research Organisation (CSIRO) ABN 41 687 119 230
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivcap-works/go-eventsource/pkg/eventsource"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchPush, "push", false, "use the push (Background Driver) consumption model instead of the pull API")
	watchCmd.Flags().BoolVar(&watchStream, "stream", false, "enable streaming-data mode (MessageEvent.Chunks) instead of buffering each event's data")
	watchCmd.Flags().BoolVar(&watchThrow, "fail-fast", false, "stop watching on the first fault instead of reconnecting forever")
}

var (
	watchPush   bool
	watchStream bool
	watchThrow  bool
)

// watchCmd is the demonstration harness for both consumption models
// described in spec §4.E/§4.F: by default it pulls events one at a time
// with Stream.ReadAnyEvent; --push hands the same Stream to a Driver and
// lets its Handler callbacks print events as they arrive. Grounded on the
// teacher's (now removed) cmd/job.go streamJobResults, which looped over a
// channel of SSE events printing each as it arrived; ssectl generalizes
// that to an arbitrary endpoint and both of this module's read models.
var watchCmd = &cobra.Command{
	Use:   "watch [url]",
	Short: "Connect to an SSE endpoint and print the events it emits",
	Long: `Connect to an SSE endpoint and print the events it emits.

If url is omitted, the active context's URL is used, and the Last-Event-ID
of each message is saved back to that context as it arrives, so the next
"watch" resumes from where this one left off. An explicit url is not saved
to any context.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ctxt := resolveWatchContext(args)

		errStrategy := eventsource.AlwaysContinue()
		if watchThrow {
			errStrategy = eventsource.AlwaysThrow()
		}

		cfg := newStreamConfig(ctxt,
			eventsource.WithErrorStrategy(errStrategy),
			eventsource.WithStreamEventData(watchStream),
		)

		stream := eventsource.NewStream(cfg)

		ctx, cancel := context.WithCancel(context.Background())
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
			stream.Close()
		}()

		if watchPush {
			runPush(stream, ctxt)
		} else {
			runPull(ctx, stream, ctxt)
		}
	},
}

func resolveWatchContext(args []string) *Context {
	if len(args) == 1 {
		raw := GetHistory(args[0])
		if _, err := url.ParseRequestURI(raw); err != nil {
			cobra.CheckErr(fmt.Sprintf("'%s' is not a valid URL", raw))
		}
		token := MakeHistory(raw)
		if err := saveHistory(); err != nil {
			fmt.Fprintf(os.Stderr, "watch: could not save history - %v\n", err)
		}
		fmt.Fprintf(os.Stderr, "-- watching %s as %s --\n", raw, token)
		return &Context{Name: "(ad-hoc)", URL: raw}
	}
	return GetActiveContext()
}

func runPull(ctx context.Context, stream *eventsource.Stream, ctxt *Context) {
	for {
		ev, err := stream.ReadAnyEvent(ctx)
		if err != nil {
			if _, ok := err.(*eventsource.ClosedByCallerError); ok {
				break
			}
			fmt.Fprintf(os.Stderr, "watch: %s\n", err)
			break
		}
		printEvent(ev)
		if msg, ok := ev.(eventsource.MessageEvent); ok {
			persistLastEventID(ctxt, msg.LastEventID)
		}
	}
}

func runPush(stream *eventsource.Stream, ctxt *Context) {
	done := make(chan struct{})
	driver := eventsource.NewDriver(stream, eventsource.Handler{
		OnOpen: func(eventsource.ReadyState) {
			printEvent(eventsource.StartedEvent{})
		},
		OnMessage: func(msg eventsource.MessageEvent) {
			printEvent(msg)
			persistLastEventID(ctxt, msg.LastEventID)
		},
		OnComment: func(text string) {
			printEvent(eventsource.CommentEvent{Text: text})
		},
		OnError: func(err error) {
			printEvent(eventsource.FaultEvent{Err: err})
		},
		OnClosed: func(state eventsource.ReadyState) {
			if state == eventsource.Shutdown {
				close(done)
			}
		},
	})
	<-done
	driver.Close()
}

func persistLastEventID(ctxt *Context, id string) {
	if id == "" || ctxt.Name == "(ad-hoc)" {
		return
	}
	ctxt.LastEventID = id
	SetContext(ctxt, true)
}
