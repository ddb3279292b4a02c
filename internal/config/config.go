// Package config holds the process-wide configuration. It is built once
// at startup and handed to constructors; core logic never reads the
// environment directly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config models everything the provisioner needs from its environment.
type Config struct {
	Platform PlatformConfig `yaml:"platform"`
	Tasks    TasksConfig    `yaml:"tasks"`
	// StateDir is where the sqlite task store lives.
	StateDir string `yaml:"stateDir"`
	// Environment tags provisioned workspaces (e.g. development,
	// production) and is matched against reverse-provisioning requests.
	Environment string `yaml:"environment"`
}

// PlatformConfig locates the remote analytics platform.
type PlatformConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// TasksConfig tunes the async task tracker.
type TasksConfig struct {
	// Retention is how long terminal tasks stay queryable.
	Retention time.Duration `yaml:"retention"`
}

// Load reads configuration from FACET_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FACET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("platform.timeout", "30s")
	v.SetDefault("tasks.retention", "24h")
	v.SetDefault("state_dir", ".")
	v.SetDefault("environment", "development")

	cfg := &Config{
		Platform: PlatformConfig{
			BaseURL: v.GetString("platform.base_url"),
			Token:   v.GetString("platform.token"),
			Timeout: v.GetDuration("platform.timeout"),
		},
		Tasks: TasksConfig{
			Retention: v.GetDuration("tasks.retention"),
		},
		StateDir:    v.GetString("state_dir"),
		Environment: v.GetString("environment"),
	}
	return cfg, nil
}

// Validate ensures required settings are present. Called at startup so
// misconfiguration fails the process, not a request.
func (c *Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("FACET_PLATFORM_BASE_URL is required")
	}
	if c.Platform.Token == "" {
		return fmt.Errorf("FACET_PLATFORM_TOKEN is required")
	}
	if c.Platform.Timeout <= 0 {
		return fmt.Errorf("platform timeout must be positive")
	}
	if c.Tasks.Retention <= 0 {
		return fmt.Errorf("task retention must be positive")
	}
	return nil
}

// Dev returns a configuration suitable for local development against
// the in-memory platform backend.
func Dev(stateDir string) *Config {
	return &Config{
		Platform:    PlatformConfig{BaseURL: "mem://platform", Token: "dev", Timeout: 30 * time.Second},
		Tasks:       TasksConfig{Retention: 24 * time.Hour},
		StateDir:    stateDir,
		Environment: "development",
	}
}
