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
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/ivcap-works/go-eventsource/pkg/eventsource"
)

// ****** HISTORY ****
//
// Each URL given to "watch" on the command line is recorded under a short
// "@n" token, same idea as the teacher's URN history, so a later command
// can refer back to it without retyping. Watching the active context
// records nothing. The history holds only the current run's entries and
// replaces the history file when saved, so after "watch <url>" the next
// run can use "watch @1".

var history map[string]string

func MakeHistory(url string) string {
	if history == nil {
		history = make(map[string]string)
	}
	token := fmt.Sprintf("@%d", len(history)+1)
	history[token] = url
	return token
}

func GetHistory(token string) (value string) {
	if !strings.HasPrefix(token, "@") {
		return token
	}
	path := getHistoryFilePath()
	data, err := os.ReadFile(path)
	var hm map[string]string
	if err == nil {
		if err := yaml.Unmarshal(data, &hm); err != nil {
			cobra.CheckErr(fmt.Sprintf("problems parsing history file %s - %v", path, err))
			return
		}
		if val, ok := hm[token]; ok {
			return val
		}
	} else if _, ok := err.(*os.PathError); !ok {
		cobra.CheckErr("Error reading history file. Use the full URL instead.")
		return
	}
	cobra.CheckErr(fmt.Sprintf("Unknown history '%s'.", token))
	return
}

func saveHistory() (err error) {
	if history == nil {
		return
	}
	b, err := yaml.Marshal(history)
	if err != nil {
		cobra.CheckErr(fmt.Sprintf("cannot marshall history - %v", err))
		return
	}
	path := getHistoryFilePath()
	if err = os.WriteFile(path, b, fs.FileMode(0600)); err != nil {
		cobra.CheckErr(fmt.Sprintf("cannot write history to file %s - %v", path, err))
	}
	return
}

func getHistoryFilePath() (path string) {
	return makeConfigFilePath(HISTORY_FILE_NAME)
}

// ****** EVENT OUTPUT ****

// printEvent renders one event. Only MessageEvents go to stdout, formatted
// per --output [text, json], so stdout can be piped into jq. StartedEvent,
// CommentEvent and SetRetryDelayEvent go to stderr unless --silent is set;
// FaultEvent always goes to stderr.
func printEvent(ev eventsource.Event) {
	switch e := ev.(type) {
	case eventsource.StartedEvent:
		if !silent {
			fmt.Fprintln(os.Stderr, "-- connected --")
		}
	case eventsource.MessageEvent:
		printMessage(e)
	case eventsource.CommentEvent:
		if !silent {
			fmt.Fprintf(os.Stderr, ": %s\n", e.Text)
		}
	case eventsource.SetRetryDelayEvent:
		if !silent {
			fmt.Fprintf(os.Stderr, "-- retry delay set to %s --\n", e.Duration)
		}
	case eventsource.FaultEvent:
		fmt.Fprintf(os.Stderr, "-- fault: %s --\n", e.Err)
	}
}

func printMessage(msg eventsource.MessageEvent) {
	if msg.Chunks != nil {
		buf := make([]byte, 4096)
		for {
			n, err := msg.Chunks.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		fmt.Println()
		return
	}

	switch outputFormat {
	case "json":
		b, err := json.Marshal(map[string]string{
			"event": msg.Name,
			"id":    msg.LastEventID,
			"data":  msg.Data,
		})
		if err != nil {
			cobra.CheckErr(err)
		}
		fmt.Println(string(b))
	default:
		fmt.Printf("event=%s id=%s data=%s\n", msg.Name, msg.LastEventID, msg.Data)
	}
}
