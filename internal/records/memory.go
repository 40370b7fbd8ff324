package records

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemorySource is an in-process Source for local development and tests.
type MemorySource struct {
	mu        sync.RWMutex
	patients  map[string]Patient
	reports   map[string][]Report
	images    map[string][]ImagingStudy
	analytics map[string]AnalyticsSnapshot
	now       func() time.Time
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		patients:  make(map[string]Patient),
		reports:   make(map[string][]Report),
		images:    make(map[string][]ImagingStudy),
		analytics: make(map[string]AnalyticsSnapshot),
		now:       time.Now,
	}
}

var _ Source = (*MemorySource)(nil)

func (s *MemorySource) PutPatient(p Patient) {
	s.mu.Lock()
	s.patients[p.ID] = p
	s.mu.Unlock()
}

func (s *MemorySource) AddReport(r Report) {
	s.mu.Lock()
	s.reports[r.PatientID] = append(s.reports[r.PatientID], r)
	s.mu.Unlock()
}

func (s *MemorySource) AddImage(img ImagingStudy) {
	s.mu.Lock()
	s.images[img.PatientID] = append(s.images[img.PatientID], img)
	s.mu.Unlock()
}

func (s *MemorySource) PutAnalytics(a AnalyticsSnapshot) {
	s.mu.Lock()
	s.analytics[a.Metric] = a
	s.mu.Unlock()
}

func (s *MemorySource) Patient(ctx context.Context, id string) (Patient, error) {
	if err := ctx.Err(); err != nil {
		return Patient{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return Patient{}, fmt.Errorf("patient %q: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *MemorySource) UpdatePatient(ctx context.Context, p Patient) (Patient, error) {
	if err := ctx.Err(); err != nil {
		return Patient{}, err
	}
	if err := p.Validate(); err != nil {
		return Patient{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[p.ID]; !ok {
		return Patient{}, fmt.Errorf("patient %q: %w", p.ID, ErrNotFound)
	}
	p.UpdatedAt = s.now().UTC()
	s.patients[p.ID] = p
	return p, nil
}

func (s *MemorySource) Reports(ctx context.Context, patientID string) ([]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patients[patientID]; !ok {
		return nil, fmt.Errorf("patient %q: %w", patientID, ErrNotFound)
	}
	return append([]Report(nil), s.reports[patientID]...), nil
}

func (s *MemorySource) Images(ctx context.Context, patientID string) ([]ImagingStudy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patients[patientID]; !ok {
		return nil, fmt.Errorf("patient %q: %w", patientID, ErrNotFound)
	}
	return append([]ImagingStudy(nil), s.images[patientID]...), nil
}

func (s *MemorySource) Analytics(ctx context.Context, metric string) (AnalyticsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return AnalyticsSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.analytics[metric]
	if !ok {
		return AnalyticsSnapshot{}, fmt.Errorf("analytics %q: %w", metric, ErrNotFound)
	}
	return a, nil
}
