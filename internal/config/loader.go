package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/geowarp/geowarp/internal/core"
)

// SetDefaults installs the baseline configuration values on a viper
// instance. Callers layer config files and GEOWARP_* env vars on top.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "./geowarp.db")

	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "geowarp/1.0")
	v.SetDefault("geocoder.timeout", "10s")
	v.SetDefault("geocoder.min_interval", "1500ms")
	v.SetDefault("geocoder.hourly_limit", 3600)
	v.SetDefault("geocoder.cool_off", "5s")

	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.flush_interval", "5m")
	v.SetDefault("cache.pending_wait", "150ms")

	v.SetDefault("cooldown.enabled", true)
	v.SetDefault("cooldown.days", 7)
	v.SetDefault("cooldown.per_place", false)
	v.SetDefault("cooldown.flush_interval", "15s")
	v.SetDefault("cooldown.retention_multiple", 2)
	v.SetDefault("cooldown.retention_margin_days", 7)

	v.SetDefault("rates.enabled", true)
	v.SetDefault("rates.search_interval", "5s")
	v.SetDefault("rates.teleport_interval", "10s")
	v.SetDefault("rates.stale_ttl", "30m")
	v.SetDefault("rates.sweep_interval", "5m")
	v.SetDefault("rates.max_actors", 10000)
	v.SetDefault("rates.exempt_actors", []string{})

	v.SetDefault("world.lat_origin", 0.0)
	v.SetDefault("world.lon_origin", 0.0)
	v.SetDefault("world.scale", 1000.0)
	v.SetDefault("world.default_y", 100)
	v.SetDefault("world.invert_x", false)
	v.SetDefault("world.invert_z", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", false)
}

// Load decodes the viper state into a typed Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the core cannot run with. Values are
// checked against the same bounds the original deployment enforced.
func (c *Config) Validate() error {
	if !core.ValidCoordinate(c.World.LatOrigin, c.World.LonOrigin) {
		return fmt.Errorf("world origin out of range: lat=%v lon=%v", c.World.LatOrigin, c.World.LonOrigin)
	}
	if c.World.Scale < 0.1 || c.World.Scale > 1000000 {
		return fmt.Errorf("world scale out of range: %v", c.World.Scale)
	}

	if strings.TrimSpace(c.Geocoder.BaseURL) == "" {
		return fmt.Errorf("geocoder base_url is required")
	}
	if c.Geocoder.Timeout <= 0 {
		return fmt.Errorf("geocoder timeout must be positive")
	}
	if c.Geocoder.MinInterval < 0 {
		return fmt.Errorf("geocoder min_interval must not be negative")
	}
	if c.Geocoder.HourlyLimit < 1 {
		return fmt.Errorf("geocoder hourly_limit must be at least 1")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max_entries must be at least 1")
	}

	if c.Cooldown.Enabled && (c.Cooldown.Days < 1 || c.Cooldown.Days > 365) {
		return fmt.Errorf("cooldown days out of range: %d", c.Cooldown.Days)
	}

	if c.Rates.Enabled {
		if c.Rates.SearchInterval < 0 || c.Rates.TeleportInterval < 0 {
			return fmt.Errorf("rate intervals must not be negative")
		}
		if c.Rates.MaxActors < 1 {
			return fmt.Errorf("rates max_actors must be at least 1")
		}
	}

	return nil
}

// Origin converts the world section into the core projection anchor.
func (c *Config) Origin() core.WorldOrigin {
	return core.WorldOrigin{
		LatOrigin: c.World.LatOrigin,
		LonOrigin: c.World.LonOrigin,
		Scale:     c.World.Scale,
		DefaultY:  c.World.DefaultY,
		InvertX:   c.World.InvertX,
		InvertZ:   c.World.InvertZ,
	}
}
