// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > embedded defaults > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "5s", "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all installer configuration.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Layout     LayoutConfig     `yaml:"layout"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Install    InstallConfig    `yaml:"install"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AppConfig identifies the application being registered.
type AppConfig struct {
	Identifier string `yaml:"identifier"`
	Name       string `yaml:"name"`
	MenuLabel  string `yaml:"menu_label"`
	ExecPath   string `yaml:"exec_path"`
}

// LayoutConfig overrides where per-user files are placed.
type LayoutConfig struct {
	// Home replaces the current user's home directory when set.
	Home string `yaml:"home"`
}

// SupervisorConfig holds launchctl settings.
type SupervisorConfig struct {
	Launchctl string   `yaml:"launchctl"`
	Timeout   Duration `yaml:"timeout"`
}

// InstallConfig toggles optional install steps.
type InstallConfig struct {
	Load          bool     `yaml:"load"`
	Launch        bool     `yaml:"launch"`
	BundleRetries int      `yaml:"bundle_retries"`
	RetryDelay    Duration `yaml:"retry_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Identifier: "pl.com.t3.macostranslate",
			ExecPath:   "/usr/local/bin/macostranslate",
		},
		Supervisor: SupervisorConfig{
			Launchctl: "launchctl",
			Timeout:   Duration{5 * time.Second},
		},
		Install: InstallConfig{
			Load:          true,
			Launch:        true,
			BundleRetries: 2,
			RetryDelay:    Duration{200 * time.Millisecond},
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty strings and nil pointers are treated as "not set" and skipped.
type CLIOverrides struct {
	ExecPath   string
	Identifier string
	AppName    string
	Home       string
	LogLevel   string
	Load       *bool
	Launch     *bool
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %s: %w", filePath, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if cli.ExecPath != "" {
		cfg.App.ExecPath = cli.ExecPath
	}
	if cli.Identifier != "" {
		cfg.App.Identifier = cli.Identifier
	}
	if cli.AppName != "" {
		cfg.App.Name = cli.AppName
	}
	if cli.Home != "" {
		cfg.Layout.Home = cli.Home
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.Load != nil {
		cfg.Install.Load = *cli.Load
	}
	if cli.Launch != nil {
		cfg.Install.Launch = *cli.Launch
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MT_EXEC_PATH"); v != "" {
		cfg.App.ExecPath = v
	}
	if v := os.Getenv("MT_IDENTIFIER"); v != "" {
		cfg.App.Identifier = v
	}
	if v := os.Getenv("MT_HOME"); v != "" {
		cfg.Layout.Home = v
	}
	if v := os.Getenv("MT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MT_LAUNCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Install.Launch = b
		}
	}
}

// ResolveHome returns Layout.Home, or the current user's home directory when
// it is unset.
func (c *Config) ResolveHome() (string, error) {
	if c.Layout.Home != "" {
		return filepath.Abs(c.Layout.Home)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return home, nil
}

// Validate checks that the configuration can drive an install.
func (c *Config) Validate() error {
	if c.App.Identifier == "" {
		return fmt.Errorf("app identifier is required")
	}
	if c.App.ExecPath == "" {
		return fmt.Errorf("executable path is required")
	}
	if !filepath.IsAbs(c.App.ExecPath) {
		return fmt.Errorf("executable path must be absolute (got: %s)", c.App.ExecPath)
	}
	if c.Supervisor.Timeout.Duration <= 0 {
		return fmt.Errorf("supervisor timeout must be positive")
	}
	if c.Install.BundleRetries < 0 {
		return fmt.Errorf("bundle_retries must not be negative")
	}
	return nil
}
