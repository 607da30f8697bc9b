// Package config loads the pybump configuration: defaults, an optional
// YAML file and PYBUMP_* environment variables, merged through viper. The
// resulting Config value is immutable and threaded explicitly through the
// pipeline so concurrent workers never consult mutable globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// AppName is the application name, used for the config directory.
const AppName = "pybump"

// TokenEnv carries the GitHub API token used for release queries.
const TokenEnv = "GITHUB_API_TOKEN"

// Config is the effective configuration of one run.
type Config struct {
	// Index is the base URL of the package index metadata endpoint.
	Index string `mapstructure:"index"`
	// GitHubToken authenticates release-list requests when set.
	GitHubToken string `mapstructure:"github_token"`
	// Workers bounds the update worker pool.
	Workers int `mapstructure:"workers"`
	// AllowPrerelease admits prerelease versions as candidates.
	AllowPrerelease bool `mapstructure:"allow_prerelease"`
	// NixpkgsRoot overrides the nixpkgs checkout location; empty means
	// the enclosing git working tree.
	NixpkgsRoot string `mapstructure:"nixpkgs_root"`

	Git    Git    `mapstructure:"git"`
	Server Server `mapstructure:"server"`
}

// Git configures the sequential commit phase.
type Git struct {
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

// Server configures the progress server.
type Server struct {
	Listen string `mapstructure:"listen"`
}

// Dir returns the pybump configuration directory.
func Dir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return AppName
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, AppName)
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("index", "https://pypi.io/pypi")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("allow_prerelease", false)
	v.SetDefault("git.author_name", "pybump")
	v.SetDefault("git.author_email", "pybump@localhost")
	v.SetDefault("server.listen", ":3000")
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from path, or from the default location
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = os.Getenv(TokenEnv)
	}
	return &cfg, nil
}

// WriteDefault creates a config file with the default settings at the
// default location. It refuses to overwrite an existing file.
func WriteDefault() error {
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return newViper().SafeWriteConfigAs(Path())
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Index == "" {
		return errors.New("index URL must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
