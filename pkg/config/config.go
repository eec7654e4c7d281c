// Package config handles configuration for devicectl.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSessionTimeoutMS is the session TTL when unconfigured.
const DefaultSessionTimeoutMS = 300000

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Drivers lists the driver registrations to load. Empty means
	// every built-in driver.
	Drivers []string `yaml:"drivers"`

	// DeviceSessionTimeout is the session TTL in milliseconds.
	DeviceSessionTimeout int `yaml:"deviceSessionTimeout"`

	// StorageRoot overrides the device storage directory.
	StorageRoot string `yaml:"storageRoot"`

	// LogFile is where the process log goes.
	LogFile string `yaml:"logFile"`
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory,
// after overlaying a .env file when one is present.
func LoadFromDir(dir string) (*Config, error) {
	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		// Existing environment wins; .env only fills gaps.
		_ = godotenv.Load(envPath)
	}

	for _, name := range []string{"config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return Load(path)
		}
	}

	// No config file found, return empty config
	return &Config{}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SessionTTL returns the configured session timeout as a duration.
func (c *Config) SessionTTL() time.Duration {
	ms := c.DeviceSessionTimeout
	if ms <= 0 {
		ms = DefaultSessionTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

// ResolveStorageRoot returns the device storage directory, defaulting
// to ~/.DeviceStorage.
func (c *Config) ResolveStorageRoot() string {
	if c.StorageRoot != "" {
		return c.StorageRoot
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".DeviceStorage")
}
