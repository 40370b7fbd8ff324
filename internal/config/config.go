// Package config loads service configuration. QUANTNEX_* environment
// variables override the optional YAML file, which overrides defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "QUANTNEX"

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Audit    AuditConfig
	Cache    CacheConfig
	Caches   CachesConfig
	Upstream UpstreamConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string
}

type LogConfig struct {
	Env   string // dev | prod
	Level string
}

type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type CacheConfig struct {
	SweepInterval time.Duration
	// EncryptionKey is a base64 AES-256 key. Empty means a per-process key.
	EncryptionKey string
}

// CacheClass sizes one data-class cache.
type CacheClass struct {
	Capacity int
	TTL      time.Duration
}

type CachesConfig struct {
	Patients  CacheClass
	Reports   CacheClass
	Images    CacheClass
	Analytics CacheClass
}

type UpstreamConfig struct {
	Backend    string // memory | http
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		Log: LogConfig{
			Env:   "prod",
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       "logs/cache-audit.log",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 90,
			Compress:   true,
		},
		Cache: CacheConfig{
			SweepInterval: time.Minute,
		},
		Caches: CachesConfig{
			Patients:  CacheClass{Capacity: 500, TTL: 5 * time.Minute},
			Reports:   CacheClass{Capacity: 1000, TTL: 15 * time.Minute},
			Images:    CacheClass{Capacity: 200, TTL: 30 * time.Minute},
			Analytics: CacheClass{Capacity: 100, TTL: time.Hour},
		},
		Upstream: UpstreamConfig{
			Backend:    "memory",
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Channel: "quantnex:cache:purge",
		},
	}
}

// Load reads configuration. path may be empty or point at a missing file;
// defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("log.env", d.Log.Env)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.path", d.Audit.Path)
	v.SetDefault("audit.max_size_mb", d.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", d.Audit.MaxBackups)
	v.SetDefault("audit.max_age_days", d.Audit.MaxAgeDays)
	v.SetDefault("audit.compress", d.Audit.Compress)

	v.SetDefault("cache.sweep_interval", d.Cache.SweepInterval)
	v.SetDefault("cache.encryption_key", d.Cache.EncryptionKey)

	for name, class := range map[string]CacheClass{
		"patients":  d.Caches.Patients,
		"reports":   d.Caches.Reports,
		"images":    d.Caches.Images,
		"analytics": d.Caches.Analytics,
	} {
		v.SetDefault("caches."+name+".capacity", class.Capacity)
		v.SetDefault("caches."+name+".ttl", class.TTL)
	}

	v.SetDefault("upstream.backend", d.Upstream.Backend)
	v.SetDefault("upstream.base_url", d.Upstream.BaseURL)
	v.SetDefault("upstream.api_key", d.Upstream.APIKey)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.max_retries", d.Upstream.MaxRetries)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.channel", d.Redis.Channel)
}

func fromViper(v *viper.Viper) Config {
	class := func(name string) CacheClass {
		return CacheClass{
			Capacity: v.GetInt("caches." + name + ".capacity"),
			TTL:      v.GetDuration("caches." + name + ".ttl"),
		}
	}

	return Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("server.max_body_bytes"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		},
		Log: LogConfig{
			Env:   v.GetString("log.env"),
			Level: v.GetString("log.level"),
		},
		Audit: AuditConfig{
			Enabled:    v.GetBool("audit.enabled"),
			Path:       v.GetString("audit.path"),
			MaxSizeMB:  v.GetInt("audit.max_size_mb"),
			MaxBackups: v.GetInt("audit.max_backups"),
			MaxAgeDays: v.GetInt("audit.max_age_days"),
			Compress:   v.GetBool("audit.compress"),
		},
		Cache: CacheConfig{
			SweepInterval: v.GetDuration("cache.sweep_interval"),
			EncryptionKey: v.GetString("cache.encryption_key"),
		},
		Caches: CachesConfig{
			Patients:  class("patients"),
			Reports:   class("reports"),
			Images:    class("images"),
			Analytics: class("analytics"),
		},
		Upstream: UpstreamConfig{
			Backend:    v.GetString("upstream.backend"),
			BaseURL:    v.GetString("upstream.base_url"),
			APIKey:     v.GetString("upstream.api_key"),
			Timeout:    v.GetDuration("upstream.timeout"),
			MaxRetries: v.GetInt("upstream.max_retries"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
	}
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
