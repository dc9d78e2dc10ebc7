// Package config loads the mixer's operational parameters from a TOML
// file, the way node/cn's generated config is loaded, with defaults
// that reproduce the mixer's historical hard-coded constants when no
// file is supplied.
package config

import (
	"os"

	"github.com/naoina/toml"
)

// Config holds every tunable the mixer would otherwise hard-code as a
// constant, so a deployment can adjust them without a rebuild.
type Config struct {
	// Network selects the lobby channel name: "CoinJoin" on mainnet,
	// "CoinJoin:<Network>" otherwise.
	Network string `toml:"network"`

	// RetryIntervalSeconds is the Matchmaker re-announce/ping tick
	// period.
	RetryIntervalSeconds int `toml:"retry_interval_seconds"`

	// DefaultTimeoutSeconds is applied to a task that doesn't specify
	// its own timeout.
	DefaultTimeoutSeconds int `toml:"default_timeout_seconds"`

	// GuestFeeSatoshis is the fixed fee a guest reserves for the join.
	GuestFeeSatoshis int64 `toml:"guest_fee_satoshis"`

	// ReceivedBufferCap bounds the announce-state candidate buffer.
	ReceivedBufferCap int `toml:"received_buffer_cap"`

	// HardMixingDefault seeds the identity's hard-mixing preference when
	// neither the CLI nor identity settings already specify one.
	HardMixingDefault bool `toml:"hard_mixing_default"`

	// DebugListenAddr, when non-empty, mounts the read-only debug HTTP
	// surface (package debugapi).
	DebugListenAddr string `toml:"debug_listen_addr"`
}

// Default returns the configuration that reproduces the mixer's
// historical literal constants.
func Default() *Config {
	return &Config{
		Network:               "",
		RetryIntervalSeconds:  10,
		DefaultTimeoutSeconds: 60,
		GuestFeeSatoshis:      50000,
		ReceivedBufferCap:     32,
		HardMixingDefault:     false,
		DebugListenAddr:       "",
	}
}

// Load reads a TOML file at path, applying it on top of Default so
// unspecified fields keep their default constants.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChannelName returns the lobby channel name for the configured
// network.
func (c *Config) ChannelName() string {
	if c.Network == "" || c.Network == "mainnet" {
		return "CoinJoin"
	}
	return "CoinJoin:" + c.Network
}
