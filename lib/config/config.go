// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable [Load] reads the config path
// from.
const EnvVar = "SWITCHBOARD_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Store backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the master configuration for switchboard.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Store selects and configures the credential store backend.
	Store StoreConfig `yaml:"store"`

	// Server configures the HTTP control API.
	Server ServerConfig `yaml:"server"`

	// Matrix configures the homeserver sessions connect to.
	Matrix MatrixConfig `yaml:"matrix"`

	// Sessions configures the session manager's timing and replies.
	Sessions SessionsConfig `yaml:"sessions"`

	// Pairing configures how pairing codes are published.
	Pairing PairingConfig `yaml:"pairing"`

	// Per-environment overrides, applied after the base config is
	// loaded. Only keys present in the section replace base values.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides holds the sections an environment may override.
// Sections are kept as raw nodes so that decoding them onto the base
// config replaces only the keys they mention.
type ConfigOverrides struct {
	Paths    yaml.Node `yaml:"paths,omitempty"`
	Store    yaml.Node `yaml:"store,omitempty"`
	Server   yaml.Node `yaml:"server,omitempty"`
	Matrix   yaml.Node `yaml:"matrix,omitempty"`
	Sessions yaml.Node `yaml:"sessions,omitempty"`
	Pairing  yaml.Node `yaml:"pairing,omitempty"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for switchboard data.
	Root string `yaml:"root"`

	// Sessions holds one directory per session with its credentials
	// and pairing image.
	Sessions string `yaml:"sessions"`

	// Identity is an age identity file. When set, credential payloads
	// are encrypted at rest.
	Identity string `yaml:"identity"`

	// DiagnosticLog receives error-level log records as JSON lines.
	// Empty disables it.
	DiagnosticLog string `yaml:"diagnostic_log"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	// Backend is "file" or "redis".
	// Default: file
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis credential store.
type RedisConfig struct {
	// Addrs lists server addresses. More than one selects a cluster
	// client.
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`

	// Prefix is prepended to session names to form keys.
	// Default: switchboard:session:
	Prefix string `yaml:"prefix"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	// Listen is the TCP address to serve on. Empty disables the API.
	// Default: 127.0.0.1:8437
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// MatrixConfig configures the Matrix homeserver.
type MatrixConfig struct {
	// Homeserver is the base URL, for example https://matrix.example.org.
	Homeserver string `yaml:"homeserver"`

	// RegistrationToken authorizes creating accounts for new sessions.
	RegistrationToken string `yaml:"registration_token"`

	// UsernamePrefix is prepended to session names to form localparts.
	// Default: switchboard-
	UsernamePrefix string `yaml:"username_prefix"`

	// DeviceName is the display name of registered devices.
	// Default: switchboard
	DeviceName string `yaml:"device_name"`

	// SyncTimeout is the /sync long-poll duration.
	// Default: 30s
	SyncTimeout Duration `yaml:"sync_timeout"`

	// MaxSyncFailures is how many consecutive transient failures a
	// connection absorbs before closing.
	// Default: 5
	MaxSyncFailures int `yaml:"max_sync_failures"`
}

// SessionsConfig configures the session manager.
type SessionsConfig struct {
	// SettleInterval is the wait after bootstrap before returning.
	// Default: 2s
	SettleInterval Duration `yaml:"settle_interval"`

	// RestartGrace is the wait before restarting the manager after a
	// restart-required close.
	// Default: 3s
	RestartGrace Duration `yaml:"restart_grace"`

	// DetachGrace is the wait before a detach tears a session down.
	// Default: 3s
	DetachGrace Duration `yaml:"detach_grace"`

	// RetryInterval spaces reconnect attempts after a failed dial.
	// Default: 5s
	RetryInterval Duration `yaml:"retry_interval"`

	// AutoReply enables the acknowledgement reply to inbound messages.
	// Default: true
	AutoReply bool `yaml:"auto_reply"`

	// ReplyTemplate is a text/template for the reply. Empty uses the
	// built-in greeting.
	ReplyTemplate string `yaml:"reply_template"`
}

// PairingConfig configures pairing code publication.
type PairingConfig struct {
	// ImageSize is the side of the QR PNG in pixels.
	// Default: 256
	ImageSize int `yaml:"image_size"`

	// Terminal also prints pairing codes to stdout.
	// Default: true (development), false (production)
	Terminal bool `yaml:"terminal"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "switchboard")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:          defaultRoot,
			Sessions:      "${SWITCHBOARD_ROOT}/sessions",
			DiagnosticLog: "${SWITCHBOARD_ROOT}/diagnostics.log",
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Redis: RedisConfig{
				Prefix: "switchboard:session:",
			},
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8437",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Matrix: MatrixConfig{
			UsernamePrefix:  "switchboard-",
			DeviceName:      "switchboard",
			SyncTimeout:     Duration(30 * time.Second),
			MaxSyncFailures: 5,
		},
		Sessions: SessionsConfig{
			SettleInterval: Duration(2 * time.Second),
			RestartGrace:   Duration(3 * time.Second),
			DetachGrace:    Duration(3 * time.Second),
			RetryInterval:  Duration(5 * time.Second),
			AutoReply:      true,
		},
		Pairing: PairingConfig{
			ImageSize: 256,
			Terminal:  true,
		},
	}
}

// Load loads configuration from the file named by SWITCHBOARD_CONFIG.
//
// There are no fallbacks or defaults: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your switchboard.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are read as JSON with comments; anything else is
// YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data, err = jsoncToYAML(data)
		if err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// jsoncToYAML strips comments and trailing commas and re-encodes the
// document as YAML so both formats share one decoder.
func jsoncToYAML(data []byte) ([]byte, error) {
	var document any
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, err
	}
	return yaml.Marshal(document)
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() error {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: pairing codes go to the image files only.
		if overrides == nil {
			c.Pairing.Terminal = false
		}
	}

	if overrides == nil {
		return nil
	}

	sections := []struct {
		name   string
		node   *yaml.Node
		target any
	}{
		{"paths", &overrides.Paths, &c.Paths},
		{"store", &overrides.Store, &c.Store},
		{"server", &overrides.Server, &c.Server},
		{"matrix", &overrides.Matrix, &c.Matrix},
		{"sessions", &overrides.Sessions, &c.Sessions},
		{"pairing", &overrides.Pairing, &c.Pairing},
	}
	for _, section := range sections {
		if section.node.IsZero() {
			continue
		}
		if err := section.node.Decode(section.target); err != nil {
			return fmt.Errorf("%s.%s: %w", c.Environment, section.name, err)
		}
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths
// and secrets.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SWITCHBOARD_ROOT": c.Paths.Root,
		"HOME":             os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SWITCHBOARD_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Sessions = expandVars(c.Paths.Sessions, vars)
	c.Paths.Identity = expandVars(c.Paths.Identity, vars)
	c.Paths.DiagnosticLog = expandVars(c.Paths.DiagnosticLog, vars)
	c.Matrix.RegistrationToken = expandVars(c.Matrix.RegistrationToken, vars)
	c.Store.Redis.Password = expandVars(c.Store.Redis.Password, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch c.Store.Backend {
	case BackendFile:
		if c.Paths.Sessions == "" {
			errs = append(errs, errors.New("paths.sessions is required for the file store"))
		}
	case BackendRedis:
		if len(c.Store.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("store.redis.addrs is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendFile, BackendRedis, c.Store.Backend))
	}

	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	}
	if c.Matrix.MaxSyncFailures < 1 {
		errs = append(errs, errors.New("matrix.max_sync_failures must be at least 1"))
	}

	durations := []struct {
		name  string
		value Duration
	}{
		{"matrix.sync_timeout", c.Matrix.SyncTimeout},
		{"sessions.settle_interval", c.Sessions.SettleInterval},
		{"sessions.restart_grace", c.Sessions.RestartGrace},
		{"sessions.detach_grace", c.Sessions.DetachGrace},
		{"sessions.retry_interval", c.Sessions.RetryInterval},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
	}
	for _, duration := range durations {
		if duration.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", duration.name))
		}
	}

	if c.Pairing.ImageSize < 21 {
		errs = append(errs, errors.New("pairing.image_size must be at least 21 pixels"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Root}
	if c.Store.Backend == BackendFile {
		paths = append(paths, c.Paths.Sessions)
	}
	if c.Paths.DiagnosticLog != "" {
		paths = append(paths, filepath.Dir(c.Paths.DiagnosticLog))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
