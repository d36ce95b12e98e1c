package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/kittclouds/gokitt/internal/proposal"
)

// Config is the daemon's own non-secret configuration -- data directory,
// analysis trigger threshold, debounce window, worker pool size, and the
// default ProposalConfig new users get before they've saved their own.
// It is loaded once at startup from a TOML file and is a separate
// concern from the per-user settings internal/secretconfig versions
// through C4.
type Config struct {
	DataDir           string        `mapstructure:"data_dir"`
	AnalysisTriggerN  int           `mapstructure:"analysis_trigger_n"`
	DebounceWindow    time.Duration `mapstructure:"debounce_window"`
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
	MaintenanceEvery  time.Duration `mapstructure:"maintenance_interval"`
	SecretWrapKeyFile string        `mapstructure:"secret_wrap_key_file"`
	DefaultProposal   proposal.Config
}

func defaultConfig() Config {
	return Config{
		DataDir:          "./gokittd-data",
		AnalysisTriggerN: 5,
		DebounceWindow:   10 * time.Second,
		WorkerPoolSize:   4,
		MaintenanceEvery: 1 * time.Hour,
		DefaultProposal:  proposal.DefaultConfig(""),
	}
}

// loadConfig reads a TOML config file at path, if one exists, layering it
// over the zero-config defaults -- grounded on the pack's
// viper.New()+SetConfigFile()+ReadInConfig() idiom, swapped from YAML to
// TOML per the ambient stack's config library choice. A missing file at
// an explicitly given path is bootstrapped with writeDefaultConfig rather
// than treated as an error, so a fresh data directory's first run leaves
// behind a config file an operator can then edit.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultConfig(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("gokittd: reading config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("gokittd: parsing config %s: %w", path, err)
	}
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 1
	}
	if cfg.WorkerPoolSize > 4 {
		cfg.WorkerPoolSize = 4
	}
	return cfg, nil
}

// writeDefaultConfig encodes cfg as TOML via BurntSushi/toml -- viper
// reads config files but doesn't write them back out, so the one-time
// bootstrap of a fresh config file uses the pack's dedicated TOML
// encoder instead.
func writeDefaultConfig(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("gokittd: creating config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("gokittd: writing default config %s: %w", path, err)
	}
	return nil
}
