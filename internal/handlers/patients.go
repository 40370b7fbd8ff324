package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"quantnex-cache/internal/invalidation"
	"quantnex-cache/internal/medcache"
	"quantnex-cache/internal/records"
	"quantnex-cache/pkg/logging/logging"
)

// Resource names used in cache keys.
const (
	ResourceProfile = "profile"
	ResourceReports = "reports"
	ResourceImages  = "images"
	ResourceMetric  = "analytics"
)

// Loaders are the read-through caches, one per data class.
type Loaders struct {
	Patients  *medcache.Loader[records.Patient]
	Reports   *medcache.Loader[[]records.Report]
	Images    *medcache.Loader[[]records.ImagingStudy]
	Analytics *medcache.Loader[records.AnalyticsSnapshot]
}

// Purger clears patient data across every cache of the process.
type Purger interface {
	ClearPatientData(patientID string) int
	Stats() map[string]medcache.Stats
}

// PatientHandler serves patient records through the caches.
type PatientHandler struct {
	loaders   Loaders
	source    records.Source
	purger    Purger
	publisher invalidation.Publisher
}

func NewPatientHandler(loaders Loaders, source records.Source, purger Purger, publisher invalidation.Publisher) *PatientHandler {
	if publisher == nil {
		publisher = invalidation.Local{}
	}
	return &PatientHandler{
		loaders:   loaders,
		source:    source,
		purger:    purger,
		publisher: publisher,
	}
}

// GetPatient handles GET /v1/patients/{patientID}. Profiles are held sealed.
func (h *PatientHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}
	logger := routeLogger(r, h.loaders.Patients.Cache().Name())

	key := medcache.PatientKey{PatientID: patientID, Resource: ResourceProfile}.String()
	p, hit, err := h.loaders.Patients.Load(r.Context(), key,
		func(ctx context.Context) (records.Patient, error) {
			return h.source.Patient(ctx, patientID)
		},
		medcache.ForPatient(patientID), medcache.Encrypted(),
	)
	if err != nil {
		writeSourceError(w, r, logger, err)
		return
	}

	logger.Debug("cache_decision", zap.Bool("cache_hit", hit))
	cacheHeader(w, hit)
	writeJSON(w, http.StatusOK, p)
}

// UpdatePatient handles PUT /v1/patients/{patientID}. After the source
// accepts the write, every cached entry for the patient is dropped here and
// on sibling processes.
func (h *PatientHandler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}
	logger := routeLogger(r, "")

	var in records.Patient
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large")
			return
		}
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if in.ID == "" {
		in.ID = patientID
	}
	if in.ID != patientID {
		writeError(w, http.StatusBadRequest, "patient_id_mismatch")
		return
	}
	if err := in.Validate(); err != nil {
		logger.Warn("invalid patient", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_patient")
		return
	}

	out, err := h.source.UpdatePatient(r.Context(), in)
	if err != nil {
		writeSourceError(w, r, logger, err)
		return
	}

	removed := h.purge(r.Context(), logger, patientID)
	logger.Info("patient updated", zap.Int("purged_entries", removed))

	writeJSON(w, http.StatusOK, out)
}

// Reports handles GET /v1/patients/{patientID}/reports.
func (h *PatientHandler) Reports(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}
	logger := routeLogger(r, h.loaders.Reports.Cache().Name())

	key := medcache.PatientKey{PatientID: patientID, Resource: ResourceReports}.String()
	reports, hit, err := h.loaders.Reports.Load(r.Context(), key,
		func(ctx context.Context) ([]records.Report, error) {
			return h.source.Reports(ctx, patientID)
		},
		medcache.ForPatient(patientID),
	)
	if err != nil {
		writeSourceError(w, r, logger, err)
		return
	}
	if reports == nil {
		reports = []records.Report{}
	}

	cacheHeader(w, hit)
	writeJSON(w, http.StatusOK, reports)
}

// Images handles GET /v1/patients/{patientID}/images.
func (h *PatientHandler) Images(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}
	logger := routeLogger(r, h.loaders.Images.Cache().Name())

	key := medcache.PatientKey{PatientID: patientID, Resource: ResourceImages}.String()
	images, hit, err := h.loaders.Images.Load(r.Context(), key,
		func(ctx context.Context) ([]records.ImagingStudy, error) {
			return h.source.Images(ctx, patientID)
		},
		medcache.ForPatient(patientID),
	)
	if err != nil {
		writeSourceError(w, r, logger, err)
		return
	}
	if images == nil {
		images = []records.ImagingStudy{}
	}

	cacheHeader(w, hit)
	writeJSON(w, http.StatusOK, images)
}

// Analytics handles GET /v1/analytics/{metric}. Aggregates are not
// patient-scoped and keep the cache's default TTL.
func (h *PatientHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	metric := strings.TrimSpace(chi.URLParam(r, "metric"))
	if metric == "" {
		writeError(w, http.StatusBadRequest, "metric_required")
		return
	}
	logger := routeLogger(r, h.loaders.Analytics.Cache().Name())

	snapshot, hit, err := h.loaders.Analytics.Load(r.Context(), medcache.GlobalKey(ResourceMetric, metric),
		func(ctx context.Context) (records.AnalyticsSnapshot, error) {
			return h.source.Analytics(ctx, metric)
		},
	)
	if err != nil {
		writeSourceError(w, r, logger, err)
		return
	}

	cacheHeader(w, hit)
	writeJSON(w, http.StatusOK, snapshot)
}

type purgeResponse struct {
	PatientID string `json:"patient_id"`
	Removed   int    `json:"removed"`
}

// PurgePatient handles DELETE /v1/patients/{patientID}/cache.
func (h *PatientHandler) PurgePatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}
	logger := routeLogger(r, "")

	removed := h.purge(r.Context(), logger, patientID)
	logger.Info("patient cache purged", zap.Int("purged_entries", removed))

	writeJSON(w, http.StatusOK, purgeResponse{PatientID: patientID, Removed: removed})
}

// Stats handles GET /v1/cache/stats.
func (h *PatientHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.purger.Stats())
}

// purge clears locally, then tells the siblings. A failed broadcast is only
// logged; sibling entries still expire within medcache.MaxPatientTTL.
func (h *PatientHandler) purge(ctx context.Context, logger *zap.Logger, patientID string) int {
	removed := h.purger.ClearPatientData(patientID)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.publisher.PublishPurge(pubCtx, patientID); err != nil {
		logger.Warn("purge broadcast failed", zap.Error(err))
	}
	return removed
}

func patientParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "patientID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "patient_id_required")
		return "", false
	}
	return id, true
}

// routeLogger logs the route pattern instead of the path so patient ids stay
// out of the logs.
func routeLogger(r *http.Request, cache string) *zap.Logger {
	logger := logging.L(r.Context())
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		logger = logger.With(zap.String("route", rctx.RoutePattern()))
	}
	if cache != "" {
		logger = logger.With(zap.String("cache", cache))
	}
	return logger
}
