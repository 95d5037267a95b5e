// Package config provides settings loading for bridgessh.
//
// Settings come from three layers, later ones winning: built-in defaults,
// an optional YAML file, and environment variables (SERVER_ADDR,
// SERVER_MAX_CLIENTS, SERVER_IDENT_TIMEOUT, KEYS_DIR).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAddr         = "0.0.0.0:22"
	DefaultMaxClients   = 65535
	DefaultKeysDir      = "./keys/"
	DefaultIdentTimeout = 60 * time.Second
)

// Settings is the process configuration.
type Settings struct {
	Server  ServerSettings `yaml:"server"`
	KeysDir string         `yaml:"keys_dir"`
}

// ServerSettings configures the listener.
type ServerSettings struct {
	Addr       string `yaml:"addr"`
	MaxClients int    `yaml:"max_clients"`
	// IdentTimeout bounds the wait for a peer's identification string.
	// Zero disables the bound.
	IdentTimeout time.Duration `yaml:"ident_timeout"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Server: ServerSettings{
			Addr:         DefaultAddr,
			MaxClients:   DefaultMaxClients,
			IdentTimeout: DefaultIdentTimeout,
		},
		KeysDir: DefaultKeysDir,
	}
}

// DefaultPath returns the default configuration file path.
// It follows platform-specific conventions:
// - Windows: %APPDATA%\bridgessh\config.yaml
// - Unix-like: $XDG_CONFIG_HOME/bridgessh/config.yaml or $HOME/.config/bridgessh/config.yaml
func DefaultPath() (string, error) {
	var configDir string

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		configDir = filepath.Join(xdgConfig, "bridgessh")
	} else if appData := os.Getenv("APPDATA"); appData != "" {
		configDir = filepath.Join(appData, "bridgessh")
	} else if homeDir, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(homeDir, ".config", "bridgessh")
	} else {
		return "", err
	}

	return filepath.Join(configDir, "config.yaml"), nil
}

// Load builds the settings from path and the process environment.
// An empty path means DefaultPath, which may be absent; an explicit path
// must exist.
func Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("locate config: %w", err)
		}
		path = p
	}

	s := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyEnv overrides settings from environment variables found by lookup.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SERVER_ADDR"); ok {
		s.Server.Addr = v
	}
	if v, ok := lookup("SERVER_MAX_CLIENTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_MAX_CLIENTS: %w", err)
		}
		s.Server.MaxClients = n
	}
	if v, ok := lookup("SERVER_IDENT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SERVER_IDENT_TIMEOUT: %w", err)
		}
		s.Server.IdentTimeout = d
	}
	if v, ok := lookup("KEYS_DIR"); ok {
		s.KeysDir = v
	}
	return nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if s.Server.MaxClients < 1 || s.Server.MaxClients > DefaultMaxClients {
		return fmt.Errorf("server.max_clients must be between 1 and %d, got %d", DefaultMaxClients, s.Server.MaxClients)
	}
	if s.Server.IdentTimeout < 0 {
		return fmt.Errorf("server.ident_timeout must not be negative, got %s", s.Server.IdentTimeout)
	}
	if s.KeysDir == "" {
		return errors.New("keys_dir must not be empty")
	}
	return nil
}

// Save writes s to path as YAML, creating parent directories.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
