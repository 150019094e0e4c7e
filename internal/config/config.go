// Package config resolves mount-time options from defaults, an optional
// granite-config file, and GRANITE_* environment variables.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"granite/internal/base"
)

// Backend kinds recognized by the mounter.
const (
	BackendBlkDev = "blkdev"
	BackendZoneFS = "zonefs"
	BackendMem    = "mem"
)

type Config struct {
	// Backend selects the device transport.
	Backend string `mapstructure:"backend"`

	// Levels is the number of lifetime classes L; each class keeps its own
	// zone pool.
	Levels int `mapstructure:"levels"`

	// LifetimeBegin is the lifetime hint mapped to class 0.
	LifetimeBegin base.Lifetime `mapstructure:"lifetime_begin"`

	// FinishThreshold, in percent of max capacity, finishes nearly-full
	// zones to reclaim active tokens. Zero disables the policy.
	FinishThreshold uint64 `mapstructure:"finish_threshold"`

	ReadOnly  bool `mapstructure:"read_only"`
	Exclusive bool `mapstructure:"exclusive"`

	// ZoneFSZoneSize supplies the zone size for the zonefs transport,
	// which does not expose it through the file API.
	ZoneFSZoneSize uint64 `mapstructure:"zonefs_zone_size"`
}

// Load resolves the mount configuration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("granite-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/granite")

	v.SetDefault("backend", BackendBlkDev)
	v.SetDefault("levels", 8)
	v.SetDefault("lifetime_begin", int(base.LifetimeNone))
	v.SetDefault("finish_threshold", 0)
	v.SetDefault("read_only", false)
	v.SetDefault("exclusive", true)
	v.SetDefault("zonefs_zone_size", uint64(256)<<20)

	v.SetEnvPrefix("GRANITE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read granite config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal granite config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects option combinations the allocator cannot run with.
func (c *Config) Validate() error {
	if c.Levels < 1 {
		return fmt.Errorf("levels must be >= 1, got %d", c.Levels)
	}
	if c.LifetimeBegin < base.LifetimeNotSet {
		return fmt.Errorf("lifetime_begin must be a lifetime value, got %d", c.LifetimeBegin)
	}
	if c.FinishThreshold > 100 {
		return fmt.Errorf("finish_threshold is a percentage, got %d", c.FinishThreshold)
	}
	switch c.Backend {
	case BackendBlkDev, BackendZoneFS, BackendMem:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}
