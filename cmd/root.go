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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	log "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ivcap-works/go-eventsource/pkg/eventsource"
	"github.com/ivcap-works/go-eventsource/pkg/transport"
)

// Names for config dir and file - stored in the os.UserConfigDir() directory
const CONFIG_FILE_DIR = "ssectl"
const CONFIG_FILE_NAME = "config.yaml"
const HISTORY_FILE_NAME = "history.yaml"

// flags
var (
	contextName string
	timeout     int
	debug       bool

	outputFormat string
	silent       bool
)

var logger *log.Logger

// Config is the persisted ssectl config file: a set of named SSE endpoint
// Contexts plus which one is active. Distinct from eventsource.Config,
// which is an in-memory, non-persisting parameter bundle for a single
// Stream; a ssectl Context is turned into an eventsource.Config by
// newStreamConfig each time a command runs.
type Config struct {
	Version       string    `yaml:"version"`
	ActiveContext string    `yaml:"active-context"`
	Contexts      []Context `yaml:"contexts"`
}

// Context is one named SSE endpoint: its URL, any headers to send on every
// request (e.g. Authorization), and the last event id observed the
// previous time this context was watched, so a new run picks up where the
// last one left off.
type Context struct {
	Name        string            `yaml:"name"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	LastEventID string            `yaml:"last-event-id,omitempty"`
}

var rootCmd = &cobra.Command{
	Use:   "ssectl",
	Short: "A command line tool to watch Server-Sent-Events streams",
	Long: `A command line tool to connect to a Server-Sent-Events endpoint and
watch the events it emits, using either the pull or the push consumption
model of github.com/ivcap-works/go-eventsource.`,
}

func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	if err := saveHistory(); err != nil {
		os.Exit(1)
	}
}

const DEFAULT_TIMEOUT_IN_SECONDS = 30

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "Context (SSE endpoint) to use")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", DEFAULT_TIMEOUT_IN_SECONDS, "Max. number of seconds to wait for the initial response")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Set logging level to DEBUG")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Set format for displaying events [text, json]")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "Do not show any progress information")
}

// initConfig sets up the process-wide zap logger. Grounded on the teacher's
// cmd/root.go initConfig: zap.NewDevelopmentConfig with stdout output and a
// debug-flag-controlled level, never the stdlib log package.
func initConfig() {
	cfg := log.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout"}

	logLevel := zapcore.InfoLevel
	if debug {
		logLevel = zapcore.DebugLevel
	}
	cfg.Level = log.NewAtomicLevelAt(logLevel)
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	SetLogger(l)
}

// newStreamConfig turns the active Context plus the process's --timeout
// flag into an eventsource.Config ready for eventsource.NewStream. Headers
// stored on the Context become the HTTPConnectStrategy's default header
// set; pkg/transport's import above also registers it as the package-wide
// DefaultConnectStrategyFactory, but ssectl builds its own instance here so
// it can carry the context's headers. Callers (e.g. watch.go) can layer
// additional options, such as an ErrorStrategy or streaming-data mode, on
// top via extra.
func newStreamConfig(ctxt *Context, extra ...eventsource.ConfigOption) *eventsource.Config {
	strat := transport.NewHTTPConnectStrategy(ctxt.URL)
	strat.Logger = eventsource.NewZapLogger(logger)
	for k, v := range ctxt.Headers {
		strat.Header.Set(k, v)
	}

	opts := []eventsource.ConfigOption{
		eventsource.WithConnectStrategy(strat),
		eventsource.WithLastEventID(ctxt.LastEventID),
		eventsource.WithResponseStartTimeout(time.Duration(timeout) * time.Second),
		eventsource.WithLogger(eventsource.NewZapLogger(logger)),
	}
	opts = append(opts, extra...)

	cfg, err := eventsource.Configure(ctxt.URL, opts...)
	if err != nil {
		cobra.CheckErr(fmt.Sprintf("cannot configure stream for '%s' - %s", ctxt.URL, err))
	}
	return cfg
}

func GetActiveContext() (ctxt *Context) {
	return GetContext(contextName, true)
}

func GetContext(name string, defaultToActiveContext bool) (ctxt *Context) {
	var err error
	ctxt, err = GetContextWithError(name, defaultToActiveContext)
	if err != nil {
		cobra.CheckErr(err)
	}
	return
}

func GetContextWithError(name string, defaultToActiveContext bool) (ctxt *Context, err error) {
	config, configFile := ReadConfigFile(true)
	if name == "" && defaultToActiveContext {
		name = config.ActiveContext
	}
	if name == "" {
		return nil, errors.New("cannot find suitable context. Use '--context' or set one via the 'context' command")
	}

	for idx, d := range config.Contexts {
		if d.Name == name {
			return &config.Contexts[idx], nil // golang loop reuses the same var, don't use "&d"
		}
	}
	return nil, fmt.Errorf("unknown context '%s' in config '%s'", name, configFile)
}

func SetContext(ctxt *Context, failIfNotExist bool) {
	config, _ := ReadConfigFile(true)
	for i, c := range config.Contexts {
		if c.Name == ctxt.Name {
			config.Contexts[i] = *ctxt
			WriteConfigFile(config)
			return
		}
	}
	if failIfNotExist {
		cobra.CheckErr(fmt.Sprintf("attempting to set/update non existing context '%s'", ctxt.Name))
	} else {
		config.Contexts = append(config.Contexts, *ctxt)
		if len(config.Contexts) == 1 {
			config.ActiveContext = ctxt.Name
		}
		WriteConfigFile(config)
	}
}

func ReadConfigFile(createIfNoConfig bool) (config *Config, configFile string) {
	configFile = GetConfigFilePath()
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		if _, ok := err.(*os.PathError); ok {
			if createIfNoConfig {
				config = &Config{Version: "v1"}
				return
			}
			cobra.CheckErr("Config file does not exist. Please create one with the 'context' command.")
		} else {
			cobra.CheckErr(fmt.Sprintf("Cannot read config file %s - %v", configFile, err))
		}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		cobra.CheckErr(fmt.Sprintf("problems parsing config file %s - %v", configFile, err))
		return
	}
	config = &cfg
	return
}

func WriteConfigFile(config *Config) {
	b, err := yaml.Marshal(config)
	if err != nil {
		cobra.CheckErr(fmt.Sprintf("cannot marshall content of config file - %v", err))
		return
	}
	configFile := GetConfigFilePath()
	if err = os.WriteFile(configFile, b, fs.FileMode(0600)); err != nil {
		cobra.CheckErr(fmt.Sprintf("cannot write to config file %s - %v", configFile, err))
	}
}

func GetConfigDir(createIfNoExist bool) (configDir string) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		cobra.CheckErr(fmt.Sprintf("Cannot find the user configuration directory - %v", err))
		return
	}
	configDir = filepath.Join(userConfigDir, CONFIG_FILE_DIR)
	if createIfNoExist {
		if err := os.MkdirAll(configDir, 0750); err != nil && !os.IsExist(err) {
			cobra.CheckErr(fmt.Sprintf("Could not create configuration directory %s - %v", configDir, err))
			return
		}
	}
	return
}

func GetConfigFilePath() (path string) {
	return makeConfigFilePath(CONFIG_FILE_NAME)
}

func makeConfigFilePath(fileName string) (path string) {
	return filepath.Join(GetConfigDir(true), fileName)
}

func Logger() *log.Logger {
	return logger
}

func SetLogger(l *log.Logger) {
	logger = l
}
