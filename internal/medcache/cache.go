package medcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"quantnex-cache/internal/audit"
)

// ErrDecode marks a stored encrypted entry that could not be opened or
// decoded. It is never returned for an absent or expired key.
var ErrDecode = errors.New("medcache: decode failed")

// DecodeError reports which key failed to decode.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("medcache: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// ErrMissingPatientID is returned by Set when ForPatient is given an empty id.
var ErrMissingPatientID = errors.New("medcache: patient id required")

type entry[T any] struct {
	value     T
	sealed    []byte
	encrypted bool
	patientID string

	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	accessCount    int64

	seq     uint64 // insertion order
	touched uint64 // recency order; breaks lastAccessedAt ties
}

func (e *entry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache is a capacity-bounded TTL cache for one data class.
// All methods are safe for concurrent use.
type Cache[T any] struct {
	name        string
	capacity    int
	defaultTTL  time.Duration
	clock       clockwork.Clock
	sealer      Sealer
	sink        audit.Sink
	retainAudit bool
	logger      *zap.Logger

	mu    sync.Mutex
	items map[string]*entry[T]
	seq   uint64
	tick  uint64
	trail []audit.Record

	// pending holds loads started by a Loader that have not stored their
	// result yet. purges counts Delete, ClearPatientData and Clear calls.
	pending map[*pendingLoad]struct{}
	purges  uint64

	stopSweep func()
	closeOnce sync.Once
}

// New builds a cache and starts its background sweep.
func New[T any](cfg Config) (*Cache[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Cache[T]{
		name:        cfg.Name,
		capacity:    cfg.Capacity,
		defaultTTL:  cfg.DefaultTTL,
		clock:       cfg.Clock,
		sealer:      cfg.Sealer,
		sink:        cfg.Audit,
		retainAudit: cfg.RetainAudit,
		logger:      cfg.Logger.Named("medcache").With(zap.String("cache", cfg.Name)),
		items:       make(map[string]*entry[T]),
		pending:     make(map[*pendingLoad]struct{}),
	}

	c.stopSweep = cfg.Scheduler(cfg.SweepInterval, func() { c.Sweep() })

	return c, nil
}

// Name returns the configured cache name.
func (c *Cache[T]) Name() string { return c.name }

// Set inserts or replaces key. It fails when an Encrypted value cannot be
// encoded or when ForPatient is given an empty id.
func (c *Cache[T]) Set(key string, value T, opts ...SetOption) error {
	o := applySetOptions(opts)
	if o.patientSpecific && o.patientID == "" {
		return fmt.Errorf("medcache: set %q: %w", key, ErrMissingPatientID)
	}

	e := &entry[T]{
		encrypted: o.encrypt,
		patientID: o.patientID,
	}

	if o.encrypt {
		sealed, err := c.seal(value)
		if err != nil {
			return fmt.Errorf("medcache: encode %q: %w", key, err)
		}
		e.sealed = sealed
	} else {
		e.value = value
	}

	ttl := c.effectiveTTL(o)

	var recs []audit.Record

	c.mu.Lock()
	if o.load != nil && o.load.stale {
		// purged while the value was being fetched
		c.mu.Unlock()
		return nil
	}
	now := c.clock.Now()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.capacity {
		c.evictLocked(now, &recs)
	}

	c.seq++
	c.tick++
	e.seq = c.seq
	e.touched = c.tick
	e.createdAt = now
	e.expiresAt = now.Add(ttl)
	e.lastAccessedAt = now
	c.items[key] = e

	c.recordLocked(&recs, now, audit.ActionSet, key, e.patientID)
	c.mu.Unlock()

	c.publish(recs)
	return nil
}

// Get returns the live value for key. A missing or expired key yields
// ok == false and a nil error; err is non-nil only when an encrypted entry
// cannot be decoded (see ErrDecode).
func (c *Cache[T]) Get(key string) (value T, ok bool, err error) {
	var recs []audit.Record

	c.mu.Lock()
	e, found := c.items[key]
	if !found {
		c.mu.Unlock()
		return value, false, nil
	}

	now := c.clock.Now()
	if e.expired(now) {
		delete(c.items, key)
		c.recordLocked(&recs, now, audit.ActionExpired, key, e.patientID)
		c.mu.Unlock()
		c.publish(recs)
		return value, false, nil
	}

	c.tick++
	e.accessCount++
	e.lastAccessedAt = now
	e.touched = c.tick
	c.recordLocked(&recs, now, audit.ActionGet, key, e.patientID)

	stored, sealed, encrypted := e.value, e.sealed, e.encrypted
	c.mu.Unlock()

	c.publish(recs)

	if !encrypted {
		return stored, true, nil
	}

	out, err := c.open(sealed)
	if err != nil {
		return value, false, &DecodeError{Key: key, Err: err}
	}
	return out, true, nil
}

// Has reports whether key is live without touching access statistics.
// An expired entry found here is removed and audited like in Get.
func (c *Cache[T]) Has(key string) bool {
	var recs []audit.Record

	c.mu.Lock()
	e, found := c.items[key]
	if !found {
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	if e.expired(now) {
		delete(c.items, key)
		c.recordLocked(&recs, now, audit.ActionExpired, key, e.patientID)
		c.mu.Unlock()
		c.publish(recs)
		return false
	}
	c.mu.Unlock()

	return true
}

// Delete removes key and reports whether an entry was present. The delete
// is audited either way.
func (c *Cache[T]) Delete(key string) bool {
	var recs []audit.Record

	c.mu.Lock()
	now := c.clock.Now()
	e, found := c.items[key]
	patientID := ""
	if found {
		patientID = e.patientID
		delete(c.items, key)
	}
	c.invalidateLocked(func(p *pendingLoad) bool { return p.key == key })
	c.recordLocked(&recs, now, audit.ActionDelete, key, patientID)
	c.mu.Unlock()

	c.publish(recs)
	return found
}

// ClearPatientData removes every entry stored for patientID and returns how
// many were removed. Each removal is audited as CLEAR_PATIENT.
func (c *Cache[T]) ClearPatientData(patientID string) int {
	if patientID == "" {
		return 0
	}

	var recs []audit.Record

	c.mu.Lock()
	now := c.clock.Now()
	keys := c.keysLocked(func(e *entry[T]) bool { return e.patientID == patientID })
	for _, k := range keys {
		delete(c.items, k)
		c.recordLocked(&recs, now, audit.ActionClearPatient, k, patientID)
	}
	c.invalidateLocked(func(p *pendingLoad) bool { return p.patientID == patientID })
	c.mu.Unlock()

	c.publish(recs)
	return len(keys)
}

// Clear removes every entry. It produces a single CLEAR_ALL record
// regardless of how many entries were present.
func (c *Cache[T]) Clear() {
	var recs []audit.Record

	c.mu.Lock()
	now := c.clock.Now()
	c.items = make(map[string]*entry[T])
	c.invalidateLocked(func(*pendingLoad) bool { return true })
	c.recordLocked(&recs, now, audit.ActionClearAll, "", "")
	c.mu.Unlock()

	c.publish(recs)
}

// Sweep removes every expired entry, auditing each as EXPIRED, and returns
// the number removed. The scheduler calls it every SweepInterval.
func (c *Cache[T]) Sweep() int {
	var recs []audit.Record

	c.mu.Lock()
	now := c.clock.Now()
	keys := c.keysLocked(func(e *entry[T]) bool { return e.expired(now) })
	for _, k := range keys {
		e := c.items[k]
		delete(c.items, k)
		c.recordLocked(&recs, now, audit.ActionExpired, k, e.patientID)
	}
	c.mu.Unlock()

	c.publish(recs)

	if len(keys) > 0 {
		c.logger.Debug("cache sweep", zap.Int("removed", len(keys)))
	}
	return len(keys)
}

// Len returns the number of stored entries, including expired entries the
// sweep has not reached yet.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats is a point-in-time snapshot of a cache.
type Stats struct {
	TotalItems         int     `json:"total_items"`
	ExpiredItems       int     `json:"expired_items"`
	PatientDataItems   int     `json:"patient_data_items"`
	EncryptedItems     int     `json:"encrypted_items"`
	TotalAccesses      int64   `json:"total_accesses"`
	Capacity           int     `json:"capacity"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Stats scans all entries. ExpiredItems counts entries past expiry that no
// Get, Has or sweep has removed yet.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	s := Stats{
		TotalItems: len(c.items),
		Capacity:   c.capacity,
	}
	for _, e := range c.items {
		if e.expired(now) {
			s.ExpiredItems++
		}
		if e.patientID != "" {
			s.PatientDataItems++
		}
		if e.encrypted {
			s.EncryptedItems++
		}
		s.TotalAccesses += e.accessCount
	}
	if c.capacity > 0 {
		s.UtilizationPercent = float64(s.TotalItems) / float64(c.capacity) * 100
	}
	return s
}

// AuditTrail returns a copy of the retained audit records. It is empty
// unless Config.RetainAudit is set.
func (c *Cache[T]) AuditTrail() []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]audit.Record, len(c.trail))
	copy(out, c.trail)
	return out
}

// DrainAudit hands the retained records to the caller and starts a new
// trail. Retention of drained records is the caller's job.
func (c *Cache[T]) DrainAudit() []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.trail
	c.trail = nil
	return out
}

// Close stops the sweep and drops all entries. It is safe to call more than
// once; only the first call has an effect.
func (c *Cache[T]) Close() error {
	c.closeOnce.Do(func() {
		if c.stopSweep != nil {
			c.stopSweep()
		}
		c.Clear()
	})
	return nil
}

// pendingLoad is a fetch whose result will be stored later. A purge that
// matches it marks it stale and the later Set is dropped.
type pendingLoad struct {
	key       string
	patientID string
	stale     bool
}

func (c *Cache[T]) beginLoad(key, patientID string) *pendingLoad {
	p := &pendingLoad{key: key, patientID: patientID}
	c.mu.Lock()
	c.pending[p] = struct{}{}
	c.mu.Unlock()
	return p
}

func (c *Cache[T]) endLoad(p *pendingLoad) {
	c.mu.Lock()
	delete(c.pending, p)
	c.mu.Unlock()
}

// purgeEpoch changes whenever entries are removed by Delete,
// ClearPatientData or Clear.
func (c *Cache[T]) purgeEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purges
}

func (c *Cache[T]) invalidateLocked(match func(*pendingLoad) bool) {
	c.purges++
	for p := range c.pending {
		if match(p) {
			p.stale = true
		}
	}
}

func (c *Cache[T]) effectiveTTL(o setOptions) time.Duration {
	ttl := c.defaultTTL
	if o.ttl > 0 {
		ttl = o.ttl
	}
	if o.patientSpecific && ttl > MaxPatientTTL {
		ttl = MaxPatientTTL
	}
	return ttl
}

// evictLocked drops the least recently accessed entry.
func (c *Cache[T]) evictLocked(now time.Time, recs *[]audit.Record) {
	var (
		victimKey string
		victim    *entry[T]
	)
	for k, e := range c.items {
		if victim == nil || olderAccess(e, victim) {
			victimKey, victim = k, e
		}
	}
	if victim == nil {
		return
	}

	delete(c.items, victimKey)
	c.recordLocked(recs, now, audit.ActionEvicted, victimKey, victim.patientID)
}

func olderAccess[T any](a, b *entry[T]) bool {
	if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
		return a.lastAccessedAt.Before(b.lastAccessedAt)
	}
	return a.touched < b.touched
}

// keysLocked returns matching keys in insertion order so audit output is
// deterministic.
func (c *Cache[T]) keysLocked(match func(*entry[T]) bool) []string {
	var keys []string
	for k, e := range c.items {
		if match(e) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.items[keys[i]].seq < c.items[keys[j]].seq
	})
	return keys
}

func (c *Cache[T]) recordLocked(recs *[]audit.Record, now time.Time, action audit.Action, key, patientID string) {
	rec := audit.Record{
		Timestamp: now,
		Cache:     c.name,
		Action:    action,
		Key:       key,
		PatientID: patientID,
	}
	if c.retainAudit {
		c.trail = append(c.trail, rec)
	}
	*recs = append(*recs, rec)
}

// publish hands records to the sink outside the cache lock.
func (c *Cache[T]) publish(recs []audit.Record) {
	for _, r := range recs {
		c.sink.Record(r)
	}
}

func (c *Cache[T]) seal(value T) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return c.sealer.Seal(raw)
}

func (c *Cache[T]) open(sealed []byte) (T, error) {
	var out T
	raw, err := c.sealer.Open(sealed)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
