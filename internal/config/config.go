// Package config loads config.toml from the per-user config directory:
// per-forge on_start actions, command aliases, hook format, and daemon
// tuning knobs (sync interval bounds, idle-exit window).
//
// Completes the teacher's own documented intent: it imports both
// spf13/viper and BurntSushi/toml in its go.mod but has no wired config
// loader in the retrieved slice. This package is that loader, built in
// viper's own idiom (SetConfigType/SetConfigFile/AutomaticEnv/Unmarshal),
// with BurntSushi/toml as viper's decoder for the TOML format and as the
// encoder for writing the default template.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// OnStartAction is one command to run automatically when a binding's
// daemon-driven sync tick starts, e.g. a credential-refresh hook.
type OnStartAction struct {
	Command string   `mapstructure:"command" toml:"command"`
	Args    []string `mapstructure:"args" toml:"args"`
}

// ForgeConfig groups per-forge-kind settings, keyed by forge.Kind string
// value ("github", "linear") in the TOML table.
type ForgeConfig struct {
	OnStart []OnStartAction `mapstructure:"on_start" toml:"on_start"`
}

// DaemonConfig tunes the background process.
type DaemonConfig struct {
	MinSyncInterval time.Duration `mapstructure:"min_sync_interval" toml:"min_sync_interval"`
	MaxSyncInterval time.Duration `mapstructure:"max_sync_interval" toml:"max_sync_interval"`
	IdleExitAfter   time.Duration `mapstructure:"idle_exit_after" toml:"idle_exit_after"`
	ReplayInterval  time.Duration `mapstructure:"replay_interval" toml:"replay_interval"`
}

// Config is the full decoded shape of config.toml.
type Config struct {
	Aliases    map[string]string      `mapstructure:"aliases" toml:"aliases"`
	HookFormat string                 `mapstructure:"hook_format" toml:"hook_format"`
	Forges     map[string]ForgeConfig `mapstructure:"forges" toml:"forges"`
	Daemon     DaemonConfig           `mapstructure:"daemon" toml:"daemon"`
}

// Default returns the built-in defaults written by WriteDefault and used
// whenever config.toml is absent.
func Default() Config {
	return Config{
		Aliases:    map[string]string{},
		HookFormat: "text",
		Forges:     map[string]ForgeConfig{},
		Daemon: DaemonConfig{
			MinSyncInterval: 30 * time.Second,
			MaxSyncInterval: time.Hour,
			IdleExitAfter:   24 * time.Hour,
			ReplayInterval:  15 * time.Second,
		},
	}
}

// Load reads path with viper, falling back to Default() with no error when
// the file does not exist yet — a fresh install should run, not fail.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("ISQ")
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("aliases", cfg.Aliases)
	v.SetDefault("hook_format", cfg.HookFormat)
	v.SetDefault("daemon.min_sync_interval", cfg.Daemon.MinSyncInterval)
	v.SetDefault("daemon.max_sync_interval", cfg.Daemon.MaxSyncInterval)
	v.SetDefault("daemon.idle_exit_after", cfg.Daemon.IdleExitAfter)
	v.SetDefault("daemon.replay_interval", cfg.Daemon.ReplayInterval)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes a default config.toml to path if one does
// not already exist, using BurntSushi/toml as the encoder.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(Default()); err != nil {
		return fmt.Errorf("config: encode default: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Alias resolves a configured command alias, returning ok=false when
// name has no alias configured.
func (c Config) Alias(name string) (string, bool) {
	v, ok := c.Aliases[name]
	return v, ok
}

// OnStartActionsFor returns the configured on-start actions for a forge
// kind, or nil when none are configured.
func (c Config) OnStartActionsFor(kind string) []OnStartAction {
	return c.Forges[kind].OnStart
}
