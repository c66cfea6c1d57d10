package config

import "time"

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Geocoder GeocoderConfig `mapstructure:"geocoder"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Cooldown CooldownConfig `mapstructure:"cooldown"`
	Rates    RatesConfig    `mapstructure:"rates"`
	World    WorldConfig    `mapstructure:"world"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// GeocoderConfig controls the upstream place-search client.
type GeocoderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	HourlyLimit int           `mapstructure:"hourly_limit"`
	CoolOff     time.Duration `mapstructure:"cool_off"`
}

// CacheConfig controls the in-memory resolution cache and its
// write-behind persistence.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	PendingWait   time.Duration `mapstructure:"pending_wait"`
}

// CooldownConfig controls the durable teleport cooldown ledger.
type CooldownConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Days              int           `mapstructure:"days"`
	PerPlace          bool          `mapstructure:"per_place"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	RetentionMultiple int           `mapstructure:"retention_multiple"`
	RetentionMargin   int           `mapstructure:"retention_margin_days"`
}

// RetentionDays is the age past which ledger rows are pruned.
func (c CooldownConfig) RetentionDays() int {
	multiple := c.RetentionMultiple
	if multiple < 1 {
		multiple = 2
	}
	margin := c.RetentionMargin
	if margin < 0 {
		margin = 0
	}
	return c.Days*multiple + margin
}

// RatesConfig controls the in-memory per-actor governor.
type RatesConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	SearchInterval   time.Duration `mapstructure:"search_interval"`
	TeleportInterval time.Duration `mapstructure:"teleport_interval"`
	StaleTTL         time.Duration `mapstructure:"stale_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	MaxActors        int           `mapstructure:"max_actors"`
	ExemptActors     []string      `mapstructure:"exempt_actors"`
}

// WorldConfig anchors the geographic-to-world projection.
type WorldConfig struct {
	LatOrigin float64 `mapstructure:"lat_origin"`
	LonOrigin float64 `mapstructure:"lon_origin"`
	Scale     float64 `mapstructure:"scale"`
	DefaultY  int     `mapstructure:"default_y"`
	InvertX   bool    `mapstructure:"invert_x"`
	InvertZ   bool    `mapstructure:"invert_z"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level.
	// Valid values: debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
