package vectorstore

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Config selects and parameterizes one backend bound to one collection
type Config struct {
	Backend     Backend       `yaml:"backend"`
	Address     string        `yaml:"address"`
	Credentials string        `yaml:"credentials"`
	Database    string        `yaml:"database"`
	Collection  string        `yaml:"collection"`
	Dimension   int           `yaml:"dimension"`
	MaxVectors  int           `yaml:"max_vectors"`

	ConnectRetries int           `yaml:"connect_retries"`
	ConnectBackoff time.Duration `yaml:"connect_backoff"`
	Timeout        time.Duration `yaml:"timeout"`

	// FallbackApplied is set by the Manager when a networked backend had
	// no address and the embedded store was substituted. Callers inspect
	// it to detect the silent fallback.
	FallbackApplied bool `yaml:"-"`
}

const (
	DefaultDimension      = 768
	DefaultMaxVectors     = 100000
	DefaultConnectRetries = 3
	DefaultConnectBackoff = 500 * time.Millisecond
	DefaultTimeout        = 10 * time.Second
)

// Normalize fills defaults and applies the embedded-store fallback rule:
// a networked backend with no configured address degrades to chromem
// instead of failing startup.
func (c Config) Normalize() Config {
	if c.Backend == "" {
		c.Backend = BackendChromem
	}
	if c.Backend.Networked() && c.Address == "" {
		c.Backend = BackendChromem
		c.FallbackApplied = true
	}
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.MaxVectors <= 0 {
		c.MaxVectors = DefaultMaxVectors
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = DefaultConnectRetries
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = DefaultConnectBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate checks the normalized configuration
func (c Config) Validate() error {
	if c.Collection == "" {
		return goerr.New("collection name is required", goerr.T(ErrTagValidation))
	}
	if c.Dimension <= 0 {
		return goerr.New("dimension must be positive",
			goerr.T(ErrTagValidation), goerr.V("dimension", c.Dimension))
	}
	return nil
}

// PoolKey returns the normalized identity of the backend connection this
// config points at. Managers sharing a key share one pooled client.
func (c Config) PoolKey() string {
	return string(c.Backend) + "|" + c.Address + "|" + c.Database + "|" + c.Credentials
}

// LoadConfigFile reads a YAML config file into a Config
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file",
			goerr.T(ErrTagValidation), goerr.V("path", path))
	}
	return &cfg, nil
}
