// Package medcache provides bounded, expiring, audited in-process caches for
// clinical data.
//
// A [Cache] holds one data class (patient records, reports, imaging studies,
// analytics). Each instance owns its entries and audit trail; instances share
// nothing, so different expiry policies are expressed as separate caches:
//
//	patients, err := medcache.New[records.Patient](medcache.Config{
//	    Name:       "patients",
//	    Capacity:   500,
//	    DefaultTTL: 5 * time.Minute,
//	    Audit:      sink,
//	})
//	if err != nil { ... }
//	defer patients.Close()
//
//	_ = patients.Set(key, p, medcache.ForPatient(p.ID), medcache.Encrypted())
//	p, ok, err := patients.Get(key)
//
// # Patient data
//
// Entries stored with [ForPatient] never live longer than [MaxPatientTTL],
// whatever TTL the caller asks for, and are removed in bulk by
// [Cache.ClearPatientData]. Purges match the patient id recorded at insert
// time, never the key text: an entry stored without [ForPatient] is invisible
// to purges.
//
// # Expiry
//
// Liveness is checked on every Get/Has and by a periodic sweep driven by a
// [Scheduler]. Both use the same predicate (now >= expiresAt means expired).
// Call [Cache.Close] when a cache is discarded; otherwise the sweep keeps
// running.
//
// # Audit
//
// Every operation produces audit records (see package audit) delivered to the
// configured sink in operation order.
package medcache
