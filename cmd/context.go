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
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(contextCmd)

	contextCmd.AddCommand(listContextCmd)

	contextCmd.AddCommand(createContextCmd)
	createContextCmd.Flags().StringToStringVar(&ctxtHeaders, "header", nil, "header to send with every request (repeatable, e.g. --header Authorization='Bearer xyz')")

	contextCmd.AddCommand(useContextCmd)

	contextCmd.AddCommand(getContextCmd)

	contextCmd.AddCommand(deleteContextCmd)
}

var ctxtHeaders map[string]string

// contextCmd represents the context command
var contextCmd = &cobra.Command{
	Use:     "context",
	Short:   "Manage and set the SSE endpoints ssectl knows about",
	Aliases: []string{"c"},
}

var createContextCmd = &cobra.Command{
	Use:   "create ctxtName https://example.com/events",
	Short: "Create a new context",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		name := args[0]
		rawURL := args[1]
		u, err := url.ParseRequestURI(rawURL)
		if err != nil || u.Host == "" {
			cobra.CheckErr(fmt.Sprintf("url '%s' is not a valid URL", rawURL))
		}

		ctxt := &Context{
			Name:    name,
			URL:     rawURL,
			Headers: ctxtHeaders,
		}
		SetContext(ctxt, false)
		fmt.Printf("Context '%s' created.\n", name)
	},
}

var listContextCmd = &cobra.Command{
	Use:   "list",
	Short: "List all contexts",
	Run: func(_ *cobra.Command, _ []string) {
		config, _ := ReadConfigFile(true)
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Current", "Name", "URL", "Last-Event-ID"})
		active := config.ActiveContext
		for _, c := range config.Contexts {
			current := ""
			if active == c.Name {
				current = "*"
			}
			t.AppendRow(table.Row{current, c.Name, c.URL, c.LastEventID})
		}
		t.Render()
	},
}

var useContextCmd = &cobra.Command{
	Use:     "set name",
	Short:   "Set the current context in the config file",
	Aliases: []string{"use"},
	Args:    cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		name := args[0]
		config, _ := ReadConfigFile(false)
		exists := false
		for _, c := range config.Contexts {
			if c.Name == name {
				exists = true
				break
			}
		}
		if !exists {
			cobra.CheckErr(fmt.Sprintf("context '%s' is not defined", name))
		}
		config.ActiveContext = name
		WriteConfigFile(config)
		fmt.Printf("Switched to context '%s'.\n", name)
	},
}

var deleteContextCmd = &cobra.Command{
	Use:   "delete name",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		name := args[0]
		config, _ := ReadConfigFile(false)
		kept := config.Contexts[:0]
		found := false
		for _, c := range config.Contexts {
			if c.Name == name {
				found = true
				continue
			}
			kept = append(kept, c)
		}
		if !found {
			cobra.CheckErr(fmt.Sprintf("context '%s' is not defined", name))
		}
		config.Contexts = kept
		if config.ActiveContext == name {
			config.ActiveContext = ""
		}
		WriteConfigFile(config)
		fmt.Printf("Context '%s' deleted.\n", name)
	},
}

var getContextCmd = &cobra.Command{
	Use:     "get [all|name|url|last-event-id]",
	Short:   "Display the current context",
	Aliases: []string{"current", "show"},
	Run: func(_ *cobra.Command, args []string) {
		param := "all"
		if len(args) == 1 {
			param = args[0]
		}
		context := GetActiveContext()
		switch param {
		case "name":
			fmt.Println(context.Name)
		case "url":
			fmt.Println(context.URL)
		case "last-event-id":
			fmt.Println(context.LastEventID)
		case "all":
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendRow(table.Row{"Name", context.Name})
			t.AppendRow(table.Row{"URL", context.URL})
			if context.LastEventID != "" {
				t.AppendRow(table.Row{"Last-Event-ID", context.LastEventID})
			}
			if len(context.Headers) > 0 {
				var hs []string
				for k := range context.Headers {
					hs = append(hs, k)
				}
				t.AppendRow(table.Row{"Headers", strings.Join(hs, ", ")})
			}
			t.Render()
		default:
			cobra.CheckErr(fmt.Sprintf("unknown context parameter '%s'", param))
		}
	},
}
