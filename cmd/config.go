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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
}

// configCmd represents the config command. It is deliberately separate from
// the "context" command tree: context manages individual endpoints, config
// exposes the config file itself (location and raw content).
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the ssectl config file",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the path to the config file",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(GetConfigFilePath())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the config file content",
	Run: func(_ *cobra.Command, _ []string) {
		config, _ := ReadConfigFile(true)
		b, err := yaml.Marshal(config)
		if err != nil {
			cobra.CheckErr(err)
		}
		os.Stdout.Write(b)
	},
}
