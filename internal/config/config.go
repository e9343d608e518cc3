// Package config loads fluxctl's on-disk configuration: fetch defaults for
// chunk sizing, connection bounds, and TLS pinning. Grounded
// on the teacher's internal/config/config.go (Config/DefaultConfig/GetConfig
// shape and the zeroOr generic merge helper), generalized from torrent/HTTP
// download-manager settings to fluxion's fetch defaults, and still using
// github.com/adrg/xdg for the config file's standard location.
package config

import (
	"os"
	"path/filepath"
	"reflect"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/NamanBalaji/fluxion/internal/chunker"
	"github.com/NamanBalaji/fluxion/internal/optimizer"
)

const configFileName = "fluxion"

// Config holds fluxctl's user-configurable defaults.
type Config struct {
	OutputDir string       `yaml:"outputDir,omitempty"`
	Fetch     *FetchConfig `yaml:"fetch,omitempty"`
	TLS       *TLSConfig   `yaml:"tls,omitempty"`
}

// FetchConfig holds the C3/C4 tunables a user can override globally.
type FetchConfig struct {
	MinChunkSize   int64 `yaml:"minChunkSize,omitempty"`
	MaxChunkSize   int64 `yaml:"maxChunkSize,omitempty"`
	MinConnections int   `yaml:"minConnections,omitempty"`
	MaxConnections int   `yaml:"maxConnections,omitempty"`
}

// TLSConfig holds default TLS behavior for HTTPS targets.
type TLSConfig struct {
	Pin                string `yaml:"pin,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify,omitempty"`
}

func (f *FetchConfig) IsConfig() bool { return true }
func (t *TLSConfig) IsConfig() bool   { return true }

// GetConfig reads fluxctl's config file and returns a Config struct merged
// over DefaultConfig. If the file does not exist, it returns the defaults.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}
		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	fetchCfg := zeroOr(cfg.Fetch, defaults.Fetch)
	tlsCfg := zeroOr(cfg.TLS, defaults.TLS)

	return &Config{
		OutputDir: zeroOr(cfg.OutputDir, defaults.OutputDir),
		Fetch: &FetchConfig{
			MinChunkSize:   zeroOr(fetchCfg.MinChunkSize, defaults.Fetch.MinChunkSize),
			MaxChunkSize:   zeroOr(fetchCfg.MaxChunkSize, defaults.Fetch.MaxChunkSize),
			MinConnections: zeroOr(fetchCfg.MinConnections, defaults.Fetch.MinConnections),
			MaxConnections: zeroOr(fetchCfg.MaxConnections, defaults.Fetch.MaxConnections),
		},
		TLS: &TLSConfig{
			Pin:                zeroOr(tlsCfg.Pin, defaults.TLS.Pin),
			InsecureSkipVerify: zeroOr(tlsCfg.InsecureSkipVerify, defaults.TLS.InsecureSkipVerify),
		},
	}, nil
}

// Save writes cfg to fluxctl's config file, creating its parent directory
// if necessary.
func Save(cfg *Config) error {
	if err := os.MkdirAll(xdg.ConfigHome, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(xdg.ConfigHome, configFileName), data, 0o644)
}

// DefaultConfig returns fluxctl's built-in defaults, used to fill any field
// left unset by the user's config file.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		OutputDir: filepath.Join(home, "Downloads"),
		Fetch: &FetchConfig{
			MinChunkSize:   chunker.MinChunkSize,
			MaxChunkSize:   chunker.MaxChunkSize,
			MinConnections: optimizer.DefaultMin,
			MaxConnections: optimizer.DefaultMax,
		},
		TLS: &TLSConfig{},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}
	return v
}
