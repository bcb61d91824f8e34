// config.go - Configuration management for the shielded pool daemon
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"shieldpool/internal/accumulator"
	"shieldpool/internal/types"
	"shieldpool/internal/verifier"
)

// Config represents the daemon configuration
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Verifier VerifierConfig `toml:"verifier"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
	Limits   LimitsConfig   `toml:"limits"`
}

// LedgerConfig sizes the commitment accumulator.
//
// RootHistory is how many recent roots a proof may reference. A larger window
// tolerates proofs built against older state, at the cost of letting
// operations prove against state that has since moved on. TreeDepth fixes the
// pool capacity at 2^TreeDepth notes and must match the circuit keys.
type LedgerConfig struct {
	TreeDepth         int `toml:"tree_depth"`
	RootHistory       int `toml:"root_history"`
	VerifyParallelism int `toml:"verify_parallelism"`
}

// VerifierConfig locates the verifying keys.
type VerifierConfig struct {
	KeyDir    string `toml:"key_dir"`
	CacheSize int    `toml:"cache_size"`
	// Checksums pins the hex blake2s-256 digest of each key, by kind name.
	Checksums map[string]string `toml:"checksums"`
}

// StoreConfig configures the leveldb store.
type StoreConfig struct {
	Path    string `toml:"path"`
	Cache   int    `toml:"cache_mb"`
	Handles int    `toml:"handles"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
	File  string `toml:"file"`
	Audit string `toml:"audit_file"`
}

// LimitsConfig bounds per-account submission rates.
type LimitsConfig struct {
	PerAccount int `toml:"per_account"`
	WindowSecs int `toml:"window_seconds"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			TreeDepth:   accumulator.DefaultDepth,
			RootHistory: accumulator.DefaultRootHistory,
		},
		Verifier: VerifierConfig{
			KeyDir:    "keys",
			CacheSize: 1024,
		},
		Store: StoreConfig{
			Path:    "pooldata",
			Cache:   16,
			Handles: 16,
		},
		Log: LogConfig{
			Level: "info",
			Audit: "audit.log",
		},
		Limits: LimitsConfig{
			PerAccount: 60,
			WindowSecs: 60,
		},
	}
}

// Load loads configuration from path, or writes and returns the default
// configuration if the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		return cfg, nil
	}

	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Ledger.TreeDepth < 1 || c.Ledger.TreeDepth > accumulator.MaxDepth {
		return fmt.Errorf("ledger.tree_depth must be in [1, %d]", accumulator.MaxDepth)
	}
	if c.Ledger.RootHistory < 1 {
		return errors.New("ledger.root_history must be positive")
	}
	if c.Ledger.VerifyParallelism < 0 {
		return errors.New("ledger.verify_parallelism must not be negative")
	}
	if c.Verifier.KeyDir == "" {
		return errors.New("verifier.key_dir must be set")
	}
	if c.Verifier.CacheSize < 0 {
		return errors.New("verifier.cache_size must not be negative")
	}
	if _, err := c.Checksums(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Limits.PerAccount < 0 || c.Limits.WindowSecs < 0 {
		return errors.New("limits must not be negative")
	}
	if c.Limits.PerAccount > 0 && c.Limits.WindowSecs == 0 {
		return errors.New("limits.window_seconds must be positive when per_account is set")
	}
	return nil
}

// Checksums parses the pinned verifying key checksums.
func (c *Config) Checksums() (map[types.Kind][32]byte, error) {
	out := make(map[types.Kind][32]byte, len(c.Verifier.Checksums))
	for name, hexSum := range c.Verifier.Checksums {
		kind, err := types.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("verifier.checksums: %w", err)
		}
		sum, err := verifier.ParseChecksum(hexSum)
		if err != nil {
			return nil, fmt.Errorf("verifier.checksums.%s: %w", name, err)
		}
		out[kind] = sum
	}
	return out, nil
}
