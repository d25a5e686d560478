// Package config handles configuration loading and management for ccc.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/ccc/internal/recovery"
)

// ProjectConfigName is the project-level config file searched for upward
// from the working directory.
const ProjectConfigName = ".ccc.yaml"

// Config holds all configuration for ccc.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Recovery     recovery.Policy    `mapstructure:"recovery"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts"`
	State        StateConfig        `mapstructure:"state"`
	Log          LogConfig          `mapstructure:"log"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// OrchestratorConfig holds dispatch settings.
type OrchestratorConfig struct {
	// MaxParallelSessions caps concurrent worker sessions across a run.
	MaxParallelSessions int `mapstructure:"max_parallel_sessions"`
	// CancelRunningOnHalt terminates running sessions when a run halts.
	CancelRunningOnHalt bool `mapstructure:"cancel_running_on_halt"`
	EventBuffer         int  `mapstructure:"event_buffer"`
}

// ExecutorConfig describes the external worker command.
type ExecutorConfig struct {
	// Binary is the worker executable, "claude" by default.
	Binary string   `mapstructure:"binary"`
	Flags  []string `mapstructure:"flags"`
	// DangerousPermissions passes --dangerously-skip-permissions.
	DangerousPermissions bool `mapstructure:"dangerous_permissions"`
	// WorkspaceFlag confines the worker to its workspace. Empty disables it.
	WorkspaceFlag string `mapstructure:"workspace_flag"`
	// CompletionMarker, when set, must appear in a successful worker's output.
	CompletionMarker string        `mapstructure:"completion_marker"`
	KillGrace        time.Duration `mapstructure:"kill_grace"`
}

// TimeoutsConfig holds timeout settings.
type TimeoutsConfig struct {
	// Default applies to tasks that declare no timeout.
	Default time.Duration `mapstructure:"default"`
}

// StateConfig selects where run state lives.
type StateConfig struct {
	Dir     string `mapstructure:"dir"`
	Backend string `mapstructure:"backend"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File also writes logs to <state.dir>/logs/ccc.log.
	File bool `mapstructure:"file"`
}

// DashboardConfig holds dashboard display settings.
type DashboardConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CCC_*, e.g. CCC_MAX_PARALLEL_SESSIONS)
// 2. Project config (.ccc.yaml in current directory or parent)
// 3. User config (~/.config/ccc/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.State.Dir = os.ExpandEnv(cfg.State.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv maps CCC_* environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envOverrides {
		_ = v.BindEnv(key, env)
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxParallelSessions < 1 {
		return fmt.Errorf("orchestrator.max_parallel_sessions must be at least 1, got %d", c.Orchestrator.MaxParallelSessions)
	}
	if c.Timeouts.Default <= 0 {
		return fmt.Errorf("timeouts.default must be positive, got %s", c.Timeouts.Default)
	}
	if c.Executor.Binary == "" {
		return errors.New("executor.binary must not be empty")
	}
	switch c.State.Backend {
	case "sqlite", "files":
	default:
		return fmt.Errorf("state.backend must be sqlite or files, got %q", c.State.Backend)
	}
	if err := c.Recovery.Validate(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	return nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	for key, value := range flatten(cfg) {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	for key, value := range flatten(Default()) {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for ccc.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ccc")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ccc")
	}
	return filepath.Join(home, ".config", "ccc")
}

// findProjectConfig searches for .ccc.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxParallelSessions: 3,
			CancelRunningOnHalt: true,
			EventBuffer:         256,
		},
		Executor: ExecutorConfig{
			Binary:               "claude",
			Flags:                []string{},
			DangerousPermissions: true,
			WorkspaceFlag:        "--add-dir",
			KillGrace:            5 * time.Second,
		},
		Recovery: recovery.DefaultPolicy(),
		Timeouts: TimeoutsConfig{
			Default: 30 * time.Minute,
		},
		State: StateConfig{
			Dir:     ".ccc",
			Backend: "sqlite",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   true,
		},
		Dashboard: DashboardConfig{
			RefreshRate: 500 * time.Millisecond,
		},
	}
}
