package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// ArchiverPath is the rar binary invoked for extraction and creation.
	ArchiverPath string `yaml:"archiver_path"`
	// WorkingDir is the default parent for per-item working directories.
	WorkingDir string `yaml:"working_dir"`
	// BannedDir holds the banned-file reference samples.
	BannedDir string `yaml:"banned_dir"`
	// Compression is the rar -m level, 0 (store) through 5.
	Compression int `yaml:"compression"`
	// SplitBytes splits produced RAR archives into volumes of this size.
	// Zero disables splitting.
	SplitBytes int64 `yaml:"split_bytes"`
	// ArchiverTimeout bounds one archiver invocation, in time.Duration
	// syntax ("30m", "1h").
	ArchiverTimeout string `yaml:"archiver_timeout"`
}

func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "." // Fallback to current directory
	}
	return &Config{
		ArchiverPath:    "rar",
		WorkingDir:      filepath.Join(home, ".repack", "work"),
		BannedDir:       filepath.Join(home, ".repack", "banned"),
		Compression:     0,
		SplitBytes:      1 << 30,
		ArchiverTimeout: "1h",
	}
}

func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".repack", "config.yaml")
}

func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.ArchiverPath == "" {
		return fmt.Errorf("archiver_path must not be empty")
	}
	if c.Compression < 0 || c.Compression > 5 {
		return fmt.Errorf("compression must be between 0 and 5, got %d", c.Compression)
	}
	if c.SplitBytes < 0 {
		return fmt.Errorf("split_bytes must not be negative, got %d", c.SplitBytes)
	}
	if _, err := time.ParseDuration(c.ArchiverTimeout); c.ArchiverTimeout != "" && err != nil {
		return fmt.Errorf("invalid archiver_timeout %q: %w", c.ArchiverTimeout, err)
	}
	return nil
}

// Timeout parses ArchiverTimeout, falling back to one hour when unset or
// invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.ArchiverTimeout)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path // Return unexpanded if home unavailable
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
