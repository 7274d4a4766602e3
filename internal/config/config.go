// Package config loads and validates the resolved server configuration
// from environment variables. Configuration is immutable after Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfiguration marks fatal, startup-only configuration failures.
var ErrConfiguration = errors.New("configuration error")

const (
	// MaxTimeoutSeconds is the hard upper bound for command timeouts.
	MaxTimeoutSeconds = 300

	// MaxCommandLength is the hard upper bound for a single command string.
	MaxCommandLength = 10000
)

// Host describes the single managed remote host.
type Host struct {
	Addr          string `envconfig:"HOST"`
	Port          int    `envconfig:"SSH_PORT" default:"22"`
	Username      string `envconfig:"SSH_USERNAME" default:"root"`
	Password      string `envconfig:"SSH_PASSWORD"`
	KeyPath       string `envconfig:"SSH_KEY"`
	KeyPassphrase string `envconfig:"SSH_KEY_PASSPHRASE"`

	// StrictHostKey rejects hosts missing from the known_hosts file.
	// When false the host key is accepted without verification.
	StrictHostKey  bool   `envconfig:"SSH_STRICT_HOST_KEY_CHECKING" default:"true"`
	KnownHostsFile string `envconfig:"SSH_KNOWN_HOSTS"`
}

// Security holds the risk-acceptance flag and the operation limits.
type Security struct {
	AcceptRisks    bool  `envconfig:"I_ACCEPT_RISKS" default:"false"`
	CharacterLimit int   `envconfig:"CHARACTER_LIMIT" default:"25000"`
	MaxFileSize    int64 `envconfig:"MAX_FILE_SIZE" default:"10485760"`
	DefaultTimeout int   `envconfig:"TIMEOUT" default:"30"`
	MaxTimeout     int   `ignored:"true"`
	MaxCommandLen  int   `ignored:"true"`
}

// Intermediary configures the optional blob staging backend. The
// intermediary provider is enabled when Bucket is set.
type Intermediary struct {
	Bucket     string `envconfig:"S3_BUCKET"`
	Region     string `envconfig:"S3_REGION" default:"us-east-1"`
	Endpoint   string `envconfig:"S3_ENDPOINT"`
	KeyPrefix  string `envconfig:"S3_KEY_PREFIX" default:"mcp-transfers"`
	TTLSeconds int    `envconfig:"TRANSFER_TTL" default:"3600"`
}

// Config is the full resolved configuration consumed by the composition
// root in main.
type Config struct {
	Host         Host
	Security     Security
	Intermediary Intermediary

	// ContainerTools enables the container capability provider.
	ContainerTools bool `envconfig:"CONTAINER_TOOLS" default:"false"`
}

// Load reads configuration from the environment and validates it.
// Any validation failure is fatal; the server cannot start without a
// reachable host definition and an explicit risk acknowledgement path.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	cfg.Security.MaxTimeout = MaxTimeoutSeconds
	cfg.Security.MaxCommandLen = MaxCommandLength

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that envconfig cannot express.
func (c *Config) Validate() error {
	if c.Host.Addr == "" {
		return fmt.Errorf("%w: no SSH host configured, set HOST", ErrConfiguration)
	}
	if c.Host.Password == "" && c.Host.KeyPath == "" {
		return fmt.Errorf("%w: no authentication configured, set SSH_PASSWORD or SSH_KEY", ErrConfiguration)
	}
	if c.Host.KeyPath != "" {
		if _, err := os.Stat(c.Host.KeyPath); err != nil {
			return fmt.Errorf("%w: SSH key file not found: %s", ErrConfiguration, c.Host.KeyPath)
		}
	}
	if c.Host.StrictHostKey {
		if c.Host.KnownHostsFile == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("%w: cannot resolve known_hosts location: %v", ErrConfiguration, err)
			}
			c.Host.KnownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
		}
		if _, err := os.Stat(c.Host.KnownHostsFile); err != nil {
			return fmt.Errorf("%w: known_hosts file not found: %s (disable SSH_STRICT_HOST_KEY_CHECKING or provide SSH_KNOWN_HOSTS)",
				ErrConfiguration, c.Host.KnownHostsFile)
		}
	}
	if c.Security.DefaultTimeout <= 0 || c.Security.DefaultTimeout > c.Security.MaxTimeout {
		return fmt.Errorf("%w: TIMEOUT must be in 1..%d", ErrConfiguration, c.Security.MaxTimeout)
	}
	if c.Security.CharacterLimit <= 0 {
		return fmt.Errorf("%w: CHARACTER_LIMIT must be positive", ErrConfiguration)
	}
	if c.Security.MaxFileSize <= 0 {
		return fmt.Errorf("%w: MAX_FILE_SIZE must be positive", ErrConfiguration)
	}
	if c.Intermediary.TTLSeconds <= 0 {
		return fmt.Errorf("%w: TRANSFER_TTL must be positive", ErrConfiguration)
	}
	return nil
}

// IntermediaryEnabled reports whether the blob intermediary provider is
// configured. Absence of the provider is a configuration fact, not an error.
func (c *Config) IntermediaryEnabled() bool {
	return c.Intermediary.Bucket != ""
}
