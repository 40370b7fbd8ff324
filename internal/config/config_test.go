package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 5*time.Minute, cfg.Caches.Patients.TTL)
	assert.Equal(t, "memory", cfg.Upstream.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantnex.yaml")
	yaml := `
server:
  port: 9090
log:
  env: dev
caches:
  reports:
    capacity: 42
    ttl: 2m
upstream:
  backend: http
  base_url: https://records.example.org
  api_key: file-key
redis:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("QUANTNEX_UPSTREAM_API_KEY", "env-key")
	t.Setenv("QUANTNEX_CACHES_PATIENTS_TTL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "dev", cfg.Log.Env)
	assert.Equal(t, 42, cfg.Caches.Reports.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Caches.Reports.TTL)
	assert.Equal(t, 90*time.Second, cfg.Caches.Patients.TTL)
	assert.Equal(t, "env-key", cfg.Upstream.APIKey)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "quantnex:cache:purge", cfg.Redis.Channel)
	require.NoError(t, cfg.Validate())
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Log.Env = "staging"
	cfg.Caches.Images.Capacity = -1
	cfg.Upstream.Backend = "http"
	cfg.Cache.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))

	err := cfg.Validate()
	require.Error(t, err)

	fields := map[string]bool{}
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		require.True(t, errors.As(e, &ve))
		fields[ve.Field] = true
	}

	for _, f := range []string{
		"server.port",
		"log.env",
		"caches.images.capacity",
		"upstream.base_url",
		"upstream.api_key",
		"cache.encryption_key",
	} {
		assert.True(t, fields[f], "expected a problem for %s", f)
	}
}

func TestValidateAcceptsEncryptionKey(t *testing.T) {
	cfg := Default()
	cfg.Cache.EncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	assert.NoError(t, cfg.Validate())
}
