// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package config loads the application configuration (not the access
// policy, which lives in its own file and package). Settings come from a
// keywarden.yaml file, environment variables prefixed KEYWARDEN, and CLI
// flags, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the resolved application configuration.
type Config struct {
	// PolicyFile is the declarative access policy to audit against.
	PolicyFile string `mapstructure:"policy"`

	// IdentityFile is the single private key used for key-based auth on
	// every host.
	IdentityFile string `mapstructure:"identity_file"`

	// KnownHostsFile enables strict host key checking when set.
	KnownHostsFile string `mapstructure:"known_hosts"`

	// CredentialsFile seeds the password cache, mapping "account@host" to
	// a password.
	CredentialsFile string `mapstructure:"credentials_file"`

	// ConnectTimeoutSeconds bounds each SSH connection attempt.
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout"`

	Database struct {
		Type string `mapstructure:"type"`
		DSN  string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Language string `mapstructure:"language"`
	Debug    bool   `mapstructure:"debug"`
}

// getConfigPath returns the path of the configuration file, user or
// system scoped.
func getConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keywarden")
		default:
			configDir = "/etc/keywarden"
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, "keywarden")
	}
	return filepath.Join(configDir, "keywarden.yaml"), nil
}

// Load resolves the configuration for a command: defaults, config file,
// environment, then flags.
func Load(cmd *cobra.Command, explicitFile string) (Config, error) {
	var c Config
	v := viper.New()

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "./keywarden.db")
	v.SetDefault("language", "en")
	v.SetDefault("connect_timeout", 10)

	v.SetConfigName("keywarden")
	v.SetConfigType("yaml")
	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
	}
	if userPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userPath))
	}
	if systemPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("keywarden")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}
	// Hyphenated flag names map onto snake_case config keys by hand;
	// BindPFlags only covers exact matches. An unchanged flag ranks below
	// the config file, so defaults here do not mask file settings.
	for key, flag := range map[string]string{
		"identity_file":    "identity-file",
		"known_hosts":      "known-hosts",
		"credentials_file": "credentials-file",
		"connect_timeout":  "connect-timeout",
		"database.type":    "db-type",
		"database.dsn":     "db-dsn",
		"language":         "lang",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return c, err
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// LoadCredentialSeed reads the optional credential seed file: a YAML map
// of "account@host" to password. A missing path yields an empty seed.
func LoadCredentialSeed(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}
	seed := make(map[string]string)
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return seed, nil
}
