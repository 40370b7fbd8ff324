package medcache

import (
	"strings"
)

const (
	patientKeyPrefix = "patient"
	globalKeyPrefix  = "global"
)

// PatientKey is the structured form of a patient-scoped cache key:
//
//	patient:<PATIENT_ID>:<RESOURCE>[:<VARIANT>]
type PatientKey struct {
	PatientID string
	Resource  string
	Variant   string
}

// String converts the structured key into the string stored in the cache.
func (k PatientKey) String() string {
	parts := []string{patientKeyPrefix, strings.TrimSpace(k.PatientID), strings.TrimSpace(k.Resource)}
	if v := strings.TrimSpace(k.Variant); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, ":")
}

// GlobalKey builds a key for data not tied to a patient:
//
//	global:<RESOURCE>[:<PART>...]
func GlobalKey(resource string, parts ...string) string {
	all := append([]string{globalKeyPrefix, strings.TrimSpace(resource)}, parts...)
	return strings.Join(all, ":")
}

// ParsePatientKey is a best-effort parse of the patient key convention,
// used to enrich logs. Purges never rely on it.
func ParsePatientKey(key string) (PatientKey, bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) < 3 || parts[0] != patientKeyPrefix || parts[1] == "" || parts[2] == "" {
		return PatientKey{}, false
	}

	k := PatientKey{PatientID: parts[1], Resource: parts[2]}
	if len(parts) == 4 {
		k.Variant = parts[3]
	}
	return k, true
}
