// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable [Load] reads the config path
// from.
const EnvVar = "ASSETPIPE_CONFIG"

// TransactionLogName is the file name of the processor transaction log
// inside Paths.State.
const TransactionLogName = "transactions.log"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local iteration on a source tree.
	Development Environment = "development"
	// Staging is for build machines that mirror production.
	Staging Environment = "staging"
	// Production is for unattended pipeline runs.
	Production Environment = "production"
)

// Config is the configuration for an assetpipe run.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures the source tree, the processed tree, and the
	// processor's private state.
	Paths PathsConfig `yaml:"paths"`

	// Processor configures the incremental processor.
	Processor ProcessorConfig `yaml:"processor"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths     *PathsConfig        `yaml:"paths,omitempty"`
	Processor *ProcessorOverrides `yaml:"processor,omitempty"`
	Logging   *LoggingConfig      `yaml:"logging,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory the other paths usually hang off.
	// It is available to them as ${ASSETPIPE_ROOT}.
	Root string `yaml:"root"`

	// Source is the directory of unprocessed assets and their metas.
	Source string `yaml:"source"`

	// Destination is the directory processed assets are written to.
	// Nothing but the processor should write here.
	Destination string `yaml:"destination"`

	// State holds the transaction log.
	State string `yaml:"state"`
}

// ProcessorConfig configures the incremental processor.
type ProcessorConfig struct {
	// Watch keeps the processor running after the initial pass and
	// reprocesses assets as the source tree changes.
	// Default: true (development), false (production)
	Watch bool `yaml:"watch"`

	// MaxConcurrentBuilds bounds how many assets are built at once.
	// Zero means one per CPU.
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds"`

	// EventSettle is how long to wait after a change notification
	// before handling it, so bursts of writes coalesce.
	// Default: 50ms
	EventSettle string `yaml:"event_settle"`

	// Compression selects the blob compression used in the destination
	// tree. Values: "none", "lz4", "zstd"
	// Default: none
	Compression string `yaml:"compression"`
}

// ProcessorOverrides mirrors [ProcessorConfig] with optional fields so
// an override can turn Watch off.
type ProcessorOverrides struct {
	Watch               *bool  `yaml:"watch,omitempty"`
	MaxConcurrentBuilds int    `yaml:"max_concurrent_builds,omitempty"`
	EventSettle         string `yaml:"event_settle,omitempty"`
	Compression         string `yaml:"compression,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is the minimum level logged.
	// Values: "debug", "info", "warn", "error"
	// Default: info
	Level string `yaml:"level"`

	// Format selects the handler. "auto" uses text when stderr is a
	// terminal and JSON otherwise.
	// Values: "auto", "text", "json"
	// Default: auto
	Format string `yaml:"format"`
}

var (
	logLevels    = []string{"debug", "info", "warn", "error"}
	logFormats   = []string{"auto", "text", "json"}
	compressions = []string{"none", "lz4", "zstd"}
)

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "assetpipe")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:        defaultRoot,
			Source:      filepath.Join(defaultRoot, "assets"),
			Destination: filepath.Join(defaultRoot, "imported"),
			State:       filepath.Join(defaultRoot, "state"),
		},
		Processor: ProcessorConfig{
			Watch:       true,
			EventSettle: "50ms",
			Compression: "none",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the ASSETPIPE_CONFIG environment variable.
//
// There are no fallbacks - if ASSETPIPE_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your assetpipe.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// Environment variables do not override config values. The only
// expansion performed is ${VAR} substitution inside path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production runs once and logs for machines unless told otherwise.
		if overrides == nil {
			watch := false
			overrides = &ConfigOverrides{
				Processor: &ProcessorOverrides{Watch: &watch},
				Logging:   &LoggingConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Source != "" {
			c.Paths.Source = overrides.Paths.Source
		}
		if overrides.Paths.Destination != "" {
			c.Paths.Destination = overrides.Paths.Destination
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
	}

	if overrides.Processor != nil {
		if overrides.Processor.Watch != nil {
			c.Processor.Watch = *overrides.Processor.Watch
		}
		if overrides.Processor.MaxConcurrentBuilds != 0 {
			c.Processor.MaxConcurrentBuilds = overrides.Processor.MaxConcurrentBuilds
		}
		if overrides.Processor.EventSettle != "" {
			c.Processor.EventSettle = overrides.Processor.EventSettle
		}
		if overrides.Processor.Compression != "" {
			c.Processor.Compression = overrides.Processor.Compression
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"ASSETPIPE_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["ASSETPIPE_ROOT"] = c.Paths.Root

	c.Paths.Source = expandVars(c.Paths.Source, vars)
	c.Paths.Destination = expandVars(c.Paths.Destination, vars)
	c.Paths.State = expandVars(c.Paths.State, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Names in
// vars take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Source == "" {
		errs = append(errs, fmt.Errorf("paths.source is required"))
	}
	if c.Paths.Destination == "" {
		errs = append(errs, fmt.Errorf("paths.destination is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Source != "" && c.Paths.Source == c.Paths.Destination {
		errs = append(errs, fmt.Errorf("paths.source and paths.destination must differ"))
	}

	if c.Processor.MaxConcurrentBuilds < 0 {
		errs = append(errs, fmt.Errorf("processor.max_concurrent_builds must not be negative"))
	}
	if _, err := c.EventSettleDuration(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(compressions, c.Processor.Compression) {
		errs = append(errs, fmt.Errorf("processor.compression must be one of: %v", compressions))
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", logFormats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EventSettleDuration parses Processor.EventSettle. An empty value is
// zero.
func (c *Config) EventSettleDuration() (time.Duration, error) {
	if c.Processor.EventSettle == "" {
		return 0, nil
	}
	settle, err := time.ParseDuration(c.Processor.EventSettle)
	if err != nil {
		return 0, fmt.Errorf("processor.event_settle: %w", err)
	}
	if settle < 0 {
		return 0, fmt.Errorf("processor.event_settle must not be negative")
	}
	return settle, nil
}

// LogPath returns the path of the processor transaction log.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.State, TransactionLogName)
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Source,
		c.Paths.Destination,
		c.Paths.State,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
