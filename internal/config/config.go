// Package config loads KEYLEDGER_* environment settings for the server and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "keyledger"

// Store kinds.
const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// ErrMissingSecret is returned when no HMAC secret is configured.
var ErrMissingSecret = errors.New("config: KEYLEDGER_SECRET is required")

// Server is the license server configuration.
type Server struct {
	Addr          string        `envconfig:"ADDR" default:":7861"`
	Secret        string        `envconfig:"SECRET"`
	Store         string        `envconfig:"STORE" default:"badger"`
	DataDir       string        `envconfig:"DATA_DIR" default:"./data/ledger"`
	DSN           string        `envconfig:"DSN"`
	DeploymentID  string        `envconfig:"DEPLOYMENT_ID" default:"cflow-server"`
	MaxFailures   int           `envconfig:"MAX_FAILURES" default:"5"`
	FailureWindow time.Duration `envconfig:"FAILURE_WINDOW" default:"15m"`
	BlockFor      time.Duration `envconfig:"BLOCK_FOR" default:"15m"`
	Dev           bool          `envconfig:"DEV"`
}

// LoadServer reads the server configuration from the environment. Call Validate after
// applying flag overrides.
func LoadServer() (Server, error) {
	var c Server
	if err := envconfig.Process(Prefix, &c); err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}
	return c, nil
}

// Validate checks required and dependent settings.
func (c Server) Validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}
	switch c.Store {
	case StoreBadger:
		if c.DataDir == "" {
			return errors.New("config: KEYLEDGER_DATA_DIR is required for the badger store")
		}
	case StorePostgres:
		if c.DSN == "" {
			return errors.New("config: KEYLEDGER_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.DeploymentID == "" {
		return errors.New("config: deployment id must not be empty")
	}
	if c.MaxFailures < 1 || c.FailureWindow <= 0 || c.BlockFor <= 0 {
		return errors.New("config: limiter settings must be positive")
	}
	return nil
}

// Client is the CLI configuration.
type Client struct {
	ServerURL string        `envconfig:"SERVER_URL" default:"http://localhost:7861"`
	Secret    string        `envconfig:"SECRET"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"10s"`
	StateDir  string        `envconfig:"STATE_DIR"`
	Dev       bool          `envconfig:"DEV"`
}

// LoadClient reads the CLI configuration from the environment.
func LoadClient() (Client, error) {
	var c Client
	if err := envconfig.Process(Prefix, &c); err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
	}
	return c, nil
}

// Validate checks required settings.
func (c Client) Validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}
	if c.ServerURL == "" {
		return errors.New("config: server url must not be empty")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	return nil
}

// DefaultStateDir is $XDG_CONFIG_HOME/keyledger, or ~/.config/keyledger.
func DefaultStateDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "keyledger")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keyledger")
}
