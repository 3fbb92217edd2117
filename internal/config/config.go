// Package config loads the provider-core's runtime configuration from a
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	SearchIndex SearchIndexConfig `yaml:"search_index"`
	Platform    PlatformConfig    `yaml:"platform"`
	Sync        SyncConfig        `yaml:"sync"`
	Router      RouterConfig      `yaml:"router"`
	Health      HealthConfig      `yaml:"health"`
	Logging     LoggingConfig     `yaml:"logging"`
	NATSUrl     string            `yaml:"nats_url"`
	KafkaBrokers []string         `yaml:"kafka_brokers"`
	InternalAuthSecret string     `yaml:"internal_auth_secret"`
}

type ServerConfig struct {
	Port         int `yaml:"port"`
	DebugPort    int `yaml:"debug_port"`
	ReadTimeout  int `yaml:"read_timeout"`
	WriteTimeout int `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SearchIndexConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// PlatformConfig points at the platform services the core consumes
// exchange-rate and system-settings data from.
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
}

type SyncConfig struct {
	IntervalHours   int  `yaml:"interval_hours"`
	RunOnStart      bool `yaml:"run_on_start"`
	MaxInFlight     int  `yaml:"max_in_flight"`
	PerMinuteCap    int  `yaml:"per_minute_cap"`
	BatchSize       int  `yaml:"batch_size"`
	OnlyVendor      string `yaml:"-"` // populated from SYNC_PROVIDER env var
}

type RouterConfig struct {
	ActiveVendorCacheTTL time.Duration `yaml:"-"`
	QuoteCacheTTL        time.Duration `yaml:"-"`
}

type HealthConfig struct {
	WindowSeconds     int `yaml:"window_seconds"`
	FailureThreshold  int `yaml:"failure_threshold"`
	HalfOpenRequests  int `yaml:"half_open_requests"`
	BaseOpenDuration  time.Duration `yaml:"-"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads CONFIG_FILE (default "config.yaml") and applies defaults
// and environment overrides for the server, database, redis, search
// index, platform, and sync knobs.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}

	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(cfg)

	cfg.Router.ActiveVendorCacheTTL = 30 * time.Second
	cfg.Router.QuoteCacheTTL = 15 * time.Second
	cfg.Health.BaseOpenDuration = 60 * time.Second

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			DebugPort:    9090,
			ReadTimeout:  10,
			WriteTimeout: 10,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Sync: SyncConfig{
			IntervalHours: 12,
			RunOnStart:    false,
			MaxInFlight:   50,
			PerMinuteCap:  180,
			BatchSize:     5000,
		},
		Health: HealthConfig{
			WindowSeconds:    60,
			FailureThreshold: 5,
			HalfOpenRequests: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = n
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SEARCH_INDEX_URL"); v != "" {
		cfg.SearchIndex.BaseURL = v
	}
	if v := os.Getenv("SEARCH_INDEX_API_KEY"); v != "" {
		cfg.SearchIndex.APIKey = v
	}
	if v := os.Getenv("PLATFORM_BASE_URL"); v != "" {
		cfg.Platform.BaseURL = v
	}
	if v := os.Getenv("SYNC_PROVIDER"); v != "" {
		cfg.Sync.OnlyVendor = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSUrl = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	if v := os.Getenv("INTERNAL_AUTH_SECRET"); v != "" {
		cfg.InternalAuthSecret = v
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
