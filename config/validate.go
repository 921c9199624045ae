package config

import (
	"fmt"
	"strings"

	"wagerchain/crypto"
	"wagerchain/native/wager"
)

// ValidateConfig checks cross-field constraints after defaults are applied.
func ValidateConfig(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if _, err := cfg.WagerPolicy(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := cfg.CustodyAddress(); err != nil {
		return fmt.Errorf("custody: %w", err)
	}
	if cfg.Audit.Enabled {
		switch strings.ToLower(cfg.Audit.Driver) {
		case "sqlite":
		case "postgres", "postgresql":
			if strings.TrimSpace(cfg.Audit.DSN) == "" {
				return fmt.Errorf("audit: postgres requires DSN")
			}
		default:
			return fmt.Errorf("audit: unsupported driver %q", cfg.Audit.Driver)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	return nil
}

// WagerPolicy converts the policy section into an engine policy.
func (c *Config) WagerPolicy() (wager.Policy, error) {
	return wager.ParsePolicy(c.Policy.Mode, c.Policy.RequireMemberWinner)
}

// CustodyAddress parses the escrow account holding locked stakes.
func (c *Config) CustodyAddress() (crypto.Address, error) {
	if strings.TrimSpace(c.Custody.Address) == "" {
		return crypto.Address{}, fmt.Errorf("address required")
	}
	return crypto.ParseAddress(c.Custody.Address)
}
