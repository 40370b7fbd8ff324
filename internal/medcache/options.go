package medcache

import "time"

type setOptions struct {
	ttl             time.Duration
	encrypt         bool
	patientSpecific bool
	patientID       string
	load            *pendingLoad
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

// WithTTL overrides the cache's default TTL for one entry. Non-positive
// values keep the default.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// Encrypted stores the value sealed instead of raw.
func Encrypted() SetOption {
	return func(o *setOptions) {
		o.encrypt = true
	}
}

// ForPatient tags the entry with patientID. The entry's TTL is capped at
// MaxPatientTTL and ClearPatientData(patientID) removes it. Set rejects an
// empty patientID with ErrMissingPatientID.
func ForPatient(patientID string) SetOption {
	return func(o *setOptions) {
		o.patientSpecific = true
		o.patientID = patientID
	}
}

// afterLoad drops the Set if p was purged while its value was fetched.
func afterLoad(p *pendingLoad) SetOption {
	return func(o *setOptions) {
		o.load = p
	}
}
