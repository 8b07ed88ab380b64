// Package config loads the flctl TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/dispatch"
	"github.com/colorfulnotion/flchain/storage"
	"github.com/colorfulnotion/flchain/types"
)

type Config struct {
	Endpoint        string `toml:"Endpoint"`
	Pallet          string `toml:"Pallet"`
	SignatureScheme string `toml:"SignatureScheme"`
	EraPeriod       uint64 `toml:"EraPeriod"`
	// FinalityTimeout is in seconds; zero waits until the command is
	// interrupted.
	FinalityTimeout int    `toml:"FinalityTimeout"`
	LogLevel        string `toml:"LogLevel"`
	LogJSON         bool   `toml:"LogJSON"`
	LogModules      string `toml:"LogModules"`
	MetricsAddress  string `toml:"MetricsAddress"`
	OTLPEndpoint    string `toml:"OTLPEndpoint"`
	KeystoreDir     string `toml:"KeystoreDir"`
	RegistryFile    string `toml:"RegistryFile"`
	JournalPath     string `toml:"JournalPath"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Endpoint:        chain.DefaultEndpoint,
		Pallet:          storage.DefaultPallet,
		SignatureScheme: string(types.SchemeEthereum),
		EraPeriod:       dispatch.DefaultEraPeriod,
		LogLevel:        "info",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.Endpoint == "" {
		c.Endpoint = chain.DefaultEndpoint
	}
	if strings.TrimSpace(c.Pallet) == "" {
		c.Pallet = storage.DefaultPallet
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		return fmt.Errorf("Endpoint %q must be a ws:// or wss:// URL", c.Endpoint)
	}
	if _, err := types.ParseSignatureScheme(c.SignatureScheme); err != nil {
		return err
	}
	if c.FinalityTimeout < 0 {
		return fmt.Errorf("FinalityTimeout must not be negative, got %d", c.FinalityTimeout)
	}
	return nil
}

// Scheme is the parsed SignatureScheme.
func (c *Config) Scheme() types.SignatureScheme {
	s, err := types.ParseSignatureScheme(c.SignatureScheme)
	if err != nil {
		return types.SchemeEthereum
	}
	return s
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.FinalityTimeout) * time.Second
}

// Save writes cfg to path, creating the directory.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
