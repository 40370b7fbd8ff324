package medcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quantnex-cache/internal/audit"
)

const (
	DefaultCapacity      = 1000
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute

	// MaxPatientTTL is the compliance ceiling for patient-scoped entries.
	// It cannot be raised by configuration or by a per-call TTL.
	MaxPatientTTL = 10 * time.Minute
)

// ErrInvalidConfig is returned by New for misconfigured caches.
var ErrInvalidConfig = errors.New("medcache: invalid config")

// Config configures one cache instance. Zero values select defaults;
// negative values are rejected.
type Config struct {
	Name          string
	Capacity      int
	DefaultTTL    time.Duration
	SweepInterval time.Duration

	Clock     clockwork.Clock
	Scheduler Scheduler
	Sealer    Sealer

	Audit       audit.Sink
	RetainAudit bool // keep an in-memory trail readable via AuditTrail/DrainAudit

	Logger *zap.Logger
}

// Validate rejects values that can only be programmer errors.
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("%w: default ttl must not be negative, got %s", ErrInvalidConfig, c.DefaultTTL)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval must not be negative, got %s", ErrInvalidConfig, c.SweepInterval)
	}
	return nil
}

func (c Config) withDefaults() (Config, error) {
	cfg := c

	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TickerScheduler(cfg.Clock)
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sealer == nil {
		s, err := NewEphemeralSealer()
		if err != nil {
			return Config{}, err
		}
		cfg.Sealer = s
	}

	return cfg, nil
}
