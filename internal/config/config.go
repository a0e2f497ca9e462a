package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"namesweep/internal/domain"
)

// Config models namesweep.yml.
type Config struct {
	API struct {
		BaseURL        string  `yaml:"base_url"`
		TimeoutSeconds float64 `yaml:"timeout_seconds"`
	} `yaml:"api"`
	Store struct {
		Backend string `yaml:"backend"`
	} `yaml:"store"`
	CheckpointEvery int                    `yaml:"checkpoint_every"`
	Versions        map[string]VersionSpec `yaml:"versions"`
}

// VersionSpec is the per-API-version query space and rate budget.
type VersionSpec struct {
	Alphabet          string  `yaml:"alphabet"`
	MaxLength         int     `yaml:"max_length"`
	MinDelaySeconds   float64 `yaml:"min_delay_seconds"`
	MaxResults        int     `yaml:"max_results"`
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffCapSeconds float64 `yaml:"backoff_cap_seconds"`
	ThrottleCeiling   int     `yaml:"throttle_ceiling"`
}

const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ns config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the built-in default config if namesweep.yml does
// not exist in the workspace.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config can drive a run. Any failure here aborts
// before a single request is issued.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	if c.API.TimeoutSeconds < 0 {
		return fmt.Errorf("config.api.timeout_seconds must not be negative")
	}
	switch c.Store.Backend {
	case "", BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("config.store.backend must be %q or %q", BackendSQLite, BackendFile)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("config.checkpoint_every must not be negative")
	}
	if len(c.Versions) == 0 {
		return fmt.Errorf("config.versions is required")
	}
	for name, v := range c.Versions {
		if name == "" {
			return fmt.Errorf("config.versions contains an empty version name")
		}
		if v.Alphabet == "" {
			return fmt.Errorf("version %s has an empty alphabet", name)
		}
		seen := map[rune]bool{}
		for _, r := range v.Alphabet {
			if seen[r] {
				return fmt.Errorf("version %s alphabet repeats %q", name, string(r))
			}
			seen[r] = true
		}
		if v.MaxLength != 1 && v.MaxLength != 2 {
			return fmt.Errorf("version %s max_length must be 1 or 2", name)
		}
		if v.MinDelaySeconds < 0 {
			return fmt.Errorf("version %s min_delay_seconds must not be negative", name)
		}
		if v.MaxResults <= 0 {
			return fmt.Errorf("version %s max_results must be positive", name)
		}
		if v.MaxAttempts <= 0 {
			return fmt.Errorf("version %s max_attempts must be positive", name)
		}
		if v.BackoffCapSeconds < 0 {
			return fmt.Errorf("version %s backoff_cap_seconds must not be negative", name)
		}
		if v.ThrottleCeiling < 0 {
			return fmt.Errorf("version %s throttle_ceiling must not be negative", name)
		}
	}
	return nil
}

// Spec returns the QuerySpec for a configured version.
func (c *Config) Spec(version string) (domain.QuerySpec, error) {
	v, ok := c.Versions[version]
	if !ok {
		return domain.QuerySpec{}, fmt.Errorf("version %s not configured (have %v)", version, c.VersionNames())
	}
	return domain.QuerySpec{
		Version:         version,
		Alphabet:        v.Alphabet,
		MaxLength:       v.MaxLength,
		MinDelay:        time.Duration(v.MinDelaySeconds * float64(time.Second)),
		MaxResults:      v.MaxResults,
		MaxAttempts:     v.MaxAttempts,
		BackoffCap:      time.Duration(v.BackoffCapSeconds * float64(time.Second)),
		ThrottleCeiling: v.ThrottleCeiling,
	}, nil
}

// VersionNames returns configured version names in sorted order.
func (c *Config) VersionNames() []string {
	names := make([]string, 0, len(c.Versions))
	for name := range c.Versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Timeout returns the HTTP client timeout.
func (c *Config) Timeout() time.Duration {
	if c.API.TimeoutSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds * float64(time.Second))
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "namesweep.yml")
}

// Default returns the built-in config covering the three known API versions.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns the default config YAML for ns config init.
func GenerateDefault() string {
	return defaultTemplate
}

// The v1 limit was never confirmed upstream, so its delay is deliberately
// conservative. v3's alphabet includes '+', '-', '.', and space.
const defaultTemplate = `api:
  base_url: http://35.200.185.69:8000
  timeout_seconds: 10

store:
  backend: sqlite

checkpoint_every: 25

versions:
  v1:
    alphabet: abcdefghijklmnopqrstuvwxyz
    max_length: 2
    min_delay_seconds: 0.6
    max_results: 10
    max_attempts: 5
    backoff_cap_seconds: 30

  v2:
    alphabet: abcdefghijklmnopqrstuvwxyz0123456789
    max_length: 2
    min_delay_seconds: 1.2
    max_results: 10
    max_attempts: 5
    backoff_cap_seconds: 30

  v3:
    alphabet: "abcdefghijklmnopqrstuvwxyz+-. "
    max_length: 2
    min_delay_seconds: 0.75
    max_results: 10
    max_attempts: 3
    backoff_cap_seconds: 10
`
