package main

import (
	"time"

	"quantnex-cache/internal/records"
)

// seedDemo fills the in-memory source for local runs.
func seedDemo(src *records.MemorySource) {
	now := time.Now().UTC()

	src.PutPatient(records.Patient{
		ID:            "P-1001",
		MRN:           "MRN-000123",
		Name:          "Demo Patient A",
		DateOfBirth:   "1961-04-12",
		Diagnosis:     "Non-small cell lung carcinoma",
		Stage:         "IIIA",
		TreatmentPlan: "Concurrent chemoradiation",
		Status:        "active",
		UpdatedAt:     now,
	})
	src.PutPatient(records.Patient{
		ID:            "P-1002",
		MRN:           "MRN-000456",
		Name:          "Demo Patient B",
		DateOfBirth:   "1975-09-30",
		Diagnosis:     "Glioblastoma",
		Stage:         "IV",
		TreatmentPlan: "Temozolomide with radiotherapy",
		Status:        "active",
		UpdatedAt:     now,
	})

	src.AddReport(records.Report{
		ID:        "R-1",
		PatientID: "P-1001",
		Kind:      "pathology",
		Title:     "Core needle biopsy",
		Summary:   "Adenocarcinoma, PD-L1 TPS 60%",
		CreatedAt: now.Add(-72 * time.Hour),
	})
	src.AddReport(records.Report{
		ID:        "R-2",
		PatientID: "P-1002",
		Kind:      "radiology",
		Title:     "MRI brain with contrast",
		CreatedAt: now.Add(-24 * time.Hour),
	})

	src.AddImage(records.ImagingStudy{
		ID:         "I-1",
		PatientID:  "P-1001",
		Modality:   "CT",
		BodyRegion: "chest",
		AcquiredAt: now.Add(-96 * time.Hour),
	})
	src.AddImage(records.ImagingStudy{
		ID:         "I-2",
		PatientID:  "P-1002",
		Modality:   "MRI",
		BodyRegion: "brain",
		AcquiredAt: now.Add(-24 * time.Hour),
	})

	src.PutAnalytics(records.AnalyticsSnapshot{
		Metric:      "survival",
		Values:      map[string]float64{"1y": 0.78, "3y": 0.52, "5y": 0.39},
		GeneratedAt: now,
	})
	src.PutAnalytics(records.AnalyticsSnapshot{
		Metric:      "treatment_response",
		Values:      map[string]float64{"complete": 0.31, "partial": 0.42, "stable": 0.17, "progressive": 0.10},
		GeneratedAt: now,
	})
}
