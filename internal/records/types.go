package records

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by sources when the requested record does not exist.
var ErrNotFound = errors.New("records: not found")

type Patient struct {
	ID            string    `json:"id"`
	MRN           string    `json:"mrn"`
	Name          string    `json:"name"`
	DateOfBirth   string    `json:"date_of_birth,omitempty"`
	Diagnosis     string    `json:"diagnosis,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	TreatmentPlan string    `json:"treatment_plan,omitempty"`
	Status        string    `json:"status,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *Patient) Validate() error {
	if p.ID == "" {
		return errors.New("patient id is required")
	}
	if p.Name == "" {
		return errors.New("patient name is required")
	}
	return nil
}

type Report struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Kind      string    `json:"kind"` // pathology | radiology | treatment | prognosis
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ImagingStudy struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	Modality   string    `json:"modality"` // CT | MRI | PET
	BodyRegion string    `json:"body_region,omitempty"`
	SeriesURL  string    `json:"series_url,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AnalyticsSnapshot is an aggregate over the whole case load; it carries no
// patient identifiers.
type AnalyticsSnapshot struct {
	Metric      string             `json:"metric"`
	Values      map[string]float64 `json:"values"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Source is the read/write surface the service caches in front of.
type Source interface {
	Patient(ctx context.Context, id string) (Patient, error)
	UpdatePatient(ctx context.Context, p Patient) (Patient, error)
	Reports(ctx context.Context, patientID string) ([]Report, error)
	Images(ctx context.Context, patientID string) ([]ImagingStudy, error)
	Analytics(ctx context.Context, metric string) (AnalyticsSnapshot, error)
}
