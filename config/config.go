package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"wagerchain/crypto"
)

type Config struct {
	DataDir       string          `toml:"DataDir"`
	GatewayConfig string          `toml:"GatewayConfig"`
	Storage       StorageConfig   `toml:"storage"`
	Policy        PolicyConfig    `toml:"policy"`
	Custody       CustodyConfig   `toml:"custody"`
	Audit         AuditConfig     `toml:"audit"`
	Telemetry     TelemetryConfig `toml:"telemetry"`
	Logging       LoggingConfig   `toml:"logging"`
}

type StorageConfig struct {
	// Backend is either "leveldb" or "memory".
	Backend string `toml:"Backend"`
}

type PolicyConfig struct {
	// Mode is "strict" or "overwrite".
	Mode                string `toml:"Mode"`
	RequireMemberWinner bool   `toml:"RequireMemberWinner"`
}

type CustodyConfig struct {
	Address string `toml:"Address"`
}

type AuditConfig struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
	Headers     string  `toml:"Headers"`
}

type LoggingConfig struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	applyDefaults(cfg, path)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "wager-data")
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Policy.Mode) == "" {
		cfg.Policy.Mode = "strict"
	}
	if strings.TrimSpace(cfg.Audit.Driver) == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.Enabled && cfg.Audit.Driver == "sqlite" && strings.TrimSpace(cfg.Audit.DSN) == "" {
		cfg.Audit.DSN = "file:" + filepath.Join(cfg.DataDir, "audit.db")
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		DataDir:   filepath.Join(filepath.Dir(path), "wager-data"),
		Storage:   StorageConfig{Backend: "leveldb"},
		Policy:    PolicyConfig{Mode: "strict", RequireMemberWinner: true},
		Custody:   CustodyConfig{Address: crypto.AddressFromPublicKey(&key.PublicKey).String()},
		Audit:     AuditConfig{Enabled: true, Driver: "sqlite"},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4318", Insecure: true},
		Logging:   LoggingConfig{Env: "local", Level: "info"},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, path)
	return cfg, nil
}

func persist(path string, cfg *Config) error {
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
