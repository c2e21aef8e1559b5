// Package config manages the Aegis client configuration and the master-key
// derivation salt.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aegis-security/aegis/internal/cryptostore"
)

const (
	ConfigDirName   = ".aegis"
	ConfigFileName  = "config.json"
	SaltFileName    = "master.salt"
	DefaultLogLevel = "info"

	saltLen = 32
)

// Config holds client-level settings. Security thresholds are not here on
// purpose; they are business rules, not tunables.
type Config struct {
	LogLevel    string `json:"log_level"`
	StoreDriver string `json:"store_driver"` // sqlite | memory
	StorePath   string `json:"store_path"`   // sqlite file path
	VerifierURL string `json:"verifier_url"` // credential verification endpoint
	AlertURL    string `json:"alert_url"`    // optional admin alert webhook
}

// Default returns sensible defaults rooted under the user's home directory.
func Default() Config {
	return Config{
		LogLevel:    DefaultLogLevel,
		StoreDriver: "sqlite",
		StorePath:   filepath.Join(Dir(), "aegis.db"),
	}
}

// Dir returns the Aegis config directory path.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// Load reads the config file, falling back to defaults when absent.
func Load() (Config, error) {
	path := filepath.Join(Dir(), ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save persists the config with owner-only permissions.
func Save(cfg Config) error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0600)
}

// LoadOrCreateSalt reads the stored master-key salt, creating one on first
// run. The salt is not secret but must be stable across restarts.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, SaltFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		salt, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil || len(salt) != saltLen {
			return nil, fmt.Errorf("salt file %s is corrupt", path)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	salt, err := cryptostore.GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("writing salt file: %w", err)
	}
	return salt, nil
}
