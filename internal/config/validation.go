package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
)

// ValidationError names the offending key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		add("server.request_timeout", "must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.max_body_bytes", "must be positive")
	}

	switch c.Log.Env {
	case "dev", "prod":
	default:
		add("log.env", "must be dev or prod, got %q", c.Log.Env)
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		add("audit.path", "path is required when audit is enabled")
	}

	if c.Cache.SweepInterval < 0 {
		add("cache.sweep_interval", "must not be negative")
	}
	if c.Cache.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Cache.EncryptionKey)
		if err != nil {
			add("cache.encryption_key", "must be base64: %v", err)
		} else if len(key) != 32 {
			add("cache.encryption_key", "must decode to 32 bytes, got %d", len(key))
		}
	}

	for name, class := range map[string]CacheClass{
		"patients":  c.Caches.Patients,
		"reports":   c.Caches.Reports,
		"images":    c.Caches.Images,
		"analytics": c.Caches.Analytics,
	} {
		if class.Capacity < 0 {
			add("caches."+name+".capacity", "must not be negative")
		}
		if class.TTL < 0 {
			add("caches."+name+".ttl", "must not be negative")
		}
	}

	switch c.Upstream.Backend {
	case "memory":
	case "http":
		if c.Upstream.BaseURL == "" {
			add("upstream.base_url", "required when backend is http")
		} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("upstream.base_url", "must be an absolute URL, got %q", c.Upstream.BaseURL)
		}
		if c.Upstream.APIKey == "" {
			add("upstream.api_key", "required when backend is http")
		}
	default:
		add("upstream.backend", "must be memory or http, got %q", c.Upstream.Backend)
	}
	if c.Upstream.MaxRetries < 0 {
		add("upstream.max_retries", "must not be negative")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis.addr", "required when redis is enabled")
		}
		if c.Redis.Channel == "" {
			add("redis.channel", "required when redis is enabled")
		}
	}

	return errors.Join(errs...)
}
