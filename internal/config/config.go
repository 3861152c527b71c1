// Package config loads the pubky CLI configuration and keeps per-identity
// session files under the configuration directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file inside Dir.
const FileName = "config.toml"

// Config is the CLI configuration.
type Config struct {
	// Relay is the pkarr relay used to resolve and publish records.
	Relay string `toml:"relay"`
	// Homeserver is used by signup and login when no -homeserver flag is given.
	Homeserver string `toml:"homeserver"`
	// CacheSize bounds the resolver cache. 0 disables caching.
	CacheSize int `toml:"cache_size"`
	// Timeout is an HTTP request timeout such as "30s".
	Timeout Duration `toml:"timeout"`
	// Keystore is the file holding the encrypted seed. Relative paths are
	// resolved against the configuration directory.
	Keystore string `toml:"keystore"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Relay:     "https://relay.pkarr.org",
		CacheSize: 1024,
		Timeout:   Duration{30 * time.Second},
		Keystore:  "seed.key",
	}
}

// Dir returns $XDG_CONFIG_HOME/pubky, falling back to ~/.config/pubky.
func Dir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "pubky")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pubky")
}

// Load reads the configuration at path over Default. A missing file is not an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path in TOML.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// KeystorePath returns the keystore location, resolved against dir.
func (c Config) KeystorePath(dir string) string {
	if c.Keystore == "" || filepath.IsAbs(c.Keystore) {
		return c.Keystore
	}
	return filepath.Join(dir, c.Keystore)
}
