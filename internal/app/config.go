package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the sponsor registry and relay.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Sponsor    SponsorConfig    `mapstructure:"sponsor"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Relay      RelayConfig      `mapstructure:"relay"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// AuthConfig captures caller identity settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures identity tokens shared by the registry and its relays.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"token_ttl"`
}

// SponsorConfig seeds the registry. Controllers are the principals the identity
// authority reports as administrators; TimerLimit and MaxCallPerUser only apply
// until an administrator changes them.
type SponsorConfig struct {
	Controllers    []string      `mapstructure:"controllers"`
	TimerLimit     time.Duration `mapstructure:"timer_limit"`
	MaxCallPerUser uint16        `mapstructure:"max_call_per_user"`
}

// AuditConfig controls retention of the mutation audit trail.
type AuditConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	Schedule      string `mapstructure:"schedule"`
	StatsSchedule string `mapstructure:"stats_schedule"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// RelayConfig configures the caller-side relay service.
type RelayConfig struct {
	Principal string            `mapstructure:"principal"`
	Port      int               `mapstructure:"port"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Targets   map[string]string `mapstructure:"targets"`
	// AllowedCallers limits who may make the relay act on a target. The relay
	// routes always require an authenticated caller.
	AllowedCallers []string `mapstructure:"allowed_callers"`
}

// Target resolves a named registry endpoint. Unknown names that look like URLs
// are returned as-is so one-shot CLI calls can address any registry.
func (c RelayConfig) Target(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if url, ok := c.Targets[strings.ToLower(name)]; ok && strings.TrimSpace(url) != "" {
		return strings.TrimRight(strings.TrimSpace(url), "/"), true
	}
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return strings.TrimRight(name, "/"), true
	}
	return "", false
}

// TargetNames lists configured target names in sorted order.
func (c RelayConfig) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SPONSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/sponsor.sqlite")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("auth.jwt.issuer", "sponsor")
	v.SetDefault("auth.jwt.token_ttl", "15m")

	v.SetDefault("sponsor.controllers", []string{})
	v.SetDefault("sponsor.timer_limit", "0s")
	v.SetDefault("sponsor.max_call_per_user", 0)

	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.schedule", "@daily")
	v.SetDefault("audit.stats_schedule", "@every 1m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("relay.principal", "relay")
	v.SetDefault("relay.port", 8100)
	v.SetDefault("relay.timeout", "10s")
	v.SetDefault("relay.allowed_callers", []string{})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
