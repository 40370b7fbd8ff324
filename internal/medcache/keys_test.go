package medcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatientKeyString(t *testing.T) {
	assert.Equal(t, "patient:42:vitals", PatientKey{PatientID: "42", Resource: "vitals"}.String())
	assert.Equal(t, "patient:42:images:ct", PatientKey{PatientID: " 42 ", Resource: "images", Variant: "ct"}.String())
	assert.Equal(t, "global:analytics:survival:2026", GlobalKey("analytics", "survival", "2026"))
}

func TestParsePatientKey(t *testing.T) {
	k, ok := ParsePatientKey("patient:42:images:ct:axial")
	assert.True(t, ok)
	assert.Equal(t, PatientKey{PatientID: "42", Resource: "images", Variant: "ct:axial"}, k)

	for _, bad := range []string{"global:config", "patient::x", "patient:42", "exact:a:b:c:d"} {
		_, ok := ParsePatientKey(bad)
		assert.False(t, ok, bad)
	}
}
