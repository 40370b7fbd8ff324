package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"quantnex-cache/internal/medcache"
)

// StatsSource is satisfied by *medcache.Group.
type StatsSource interface {
	Stats() map[string]medcache.Stats
}

// CacheCollector exports medcache.Stats snapshots as gauges at scrape time.
type CacheCollector struct {
	source StatsSource

	items       *prometheus.Desc
	expired     *prometheus.Desc
	patient     *prometheus.Desc
	encrypted   *prometheus.Desc
	accesses    *prometheus.Desc
	capacity    *prometheus.Desc
	utilization *prometheus.Desc
}

func NewCacheCollector(source StatsSource) *CacheCollector {
	labels := []string{"cache"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("medcache_"+name, help, labels, nil)
	}

	return &CacheCollector{
		source:      source,
		items:       desc("items", "Entries currently stored, including expired entries not yet swept."),
		expired:     desc("expired_items", "Entries past expiry awaiting removal."),
		patient:     desc("patient_items", "Patient-scoped entries."),
		encrypted:   desc("encrypted_items", "Entries stored sealed."),
		accesses:    desc("accesses", "Sum of access counts over stored entries."),
		capacity:    desc("capacity", "Configured maximum entry count."),
		utilization: desc("utilization_percent", "Stored entries as a percentage of capacity."),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.expired
	ch <- c.patient
	ch <- c.encrypted
	ch <- c.accesses
	ch <- c.capacity
	ch <- c.utilization
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.source.Stats() {
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, name)
		}
		gauge(c.items, float64(s.TotalItems))
		gauge(c.expired, float64(s.ExpiredItems))
		gauge(c.patient, float64(s.PatientDataItems))
		gauge(c.encrypted, float64(s.EncryptedItems))
		gauge(c.accesses, float64(s.TotalAccesses))
		gauge(c.capacity, float64(s.Capacity))
		gauge(c.utilization, s.UtilizationPercent)
	}
}
