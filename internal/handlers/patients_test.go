package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"quantnex-cache/internal/audit"
	"quantnex-cache/internal/medcache"
	"quantnex-cache/internal/records"
)

// countingSource counts calls that reach the records source.
type countingSource struct {
	records.Source

	mu    sync.Mutex
	calls map[string]int
	fail  error

	// hold, when set, runs after a patient is read and before it is returned
	hold func()
}

func (s *countingSource) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.fail
}

func (s *countingSource) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *countingSource) Patient(ctx context.Context, id string) (records.Patient, error) {
	if err := s.hit("patient"); err != nil {
		return records.Patient{}, err
	}
	p, err := s.Source.Patient(ctx, id)
	if s.hold != nil {
		s.hold()
	}
	return p, err
}

// holdFirst makes the first patient read block until release is closed.
// entered is closed once that read is in progress.
func (s *countingSource) holdFirst() (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	s.hold = func() {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
	}
	return entered, release
}

func (s *countingSource) Reports(ctx context.Context, id string) ([]records.Report, error) {
	if err := s.hit("reports"); err != nil {
		return nil, err
	}
	return s.Source.Reports(ctx, id)
}

func (s *countingSource) Images(ctx context.Context, id string) ([]records.ImagingStudy, error) {
	if err := s.hit("images"); err != nil {
		return nil, err
	}
	return s.Source.Images(ctx, id)
}

func (s *countingSource) Analytics(ctx context.Context, metric string) (records.AnalyticsSnapshot, error) {
	if err := s.hit("analytics"); err != nil {
		return records.AnalyticsSnapshot{}, err
	}
	return s.Source.Analytics(ctx, metric)
}

type recordingPublisher struct {
	mu     sync.Mutex
	purged []string
	err    error
}

func (p *recordingPublisher) PublishPurge(_ context.Context, patientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, patientID)
	return p.err
}

type fixture struct {
	router    *chi.Mux
	source    *countingSource
	publisher *recordingPublisher
	group     *medcache.Group
	patients  *medcache.Cache[records.Patient]
}

func newCache[T any](t *testing.T, name string) *medcache.Cache[T] {
	t.Helper()
	sched := &medcache.ManualScheduler{}
	c, err := medcache.New[T](medcache.Config{
		Name:        name,
		Scheduler:   sched.Schedule,
		RetainAudit: true,
	})
	if err != nil {
		t.Fatalf("medcache.New(%s): %v", name, err)
	}
	return c
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := records.NewMemorySource()
	mem.PutPatient(records.Patient{ID: "p-1", Name: "Jane Roe", Diagnosis: "NSCLC", Stage: "II"})
	mem.PutPatient(records.Patient{ID: "p-2", Name: "John Doe", Diagnosis: "GBM", Stage: "IV"})
	mem.AddReport(records.Report{ID: "r-1", PatientID: "p-1", Kind: "pathology", Title: "Biopsy"})
	mem.AddImage(records.ImagingStudy{ID: "i-1", PatientID: "p-1", Modality: "CT"})
	mem.PutAnalytics(records.AnalyticsSnapshot{Metric: "survival", Values: map[string]float64{"1y": 0.8}})

	src := &countingSource{Source: mem, calls: map[string]int{}}

	patients := newCache[records.Patient](t, "patients")
	reports := newCache[[]records.Report](t, "reports")
	images := newCache[[]records.ImagingStudy](t, "images")
	analytics := newCache[records.AnalyticsSnapshot](t, "analytics")

	group := medcache.NewGroup(patients, reports, images, analytics)
	t.Cleanup(func() { _ = group.Close() })

	pub := &recordingPublisher{}
	h := NewPatientHandler(Loaders{
		Patients:  medcache.NewLoader(patients),
		Reports:   medcache.NewLoader(reports),
		Images:    medcache.NewLoader(images),
		Analytics: medcache.NewLoader(analytics),
	}, src, group, pub)

	r := chi.NewRouter()
	r.Get("/v1/patients/{patientID}", h.GetPatient)
	r.Put("/v1/patients/{patientID}", h.UpdatePatient)
	r.Get("/v1/patients/{patientID}/reports", h.Reports)
	r.Get("/v1/patients/{patientID}/images", h.Images)
	r.Delete("/v1/patients/{patientID}/cache", h.PurgePatient)
	r.Get("/v1/analytics/{metric}", h.Analytics)
	r.Get("/v1/cache/stats", h.Stats)

	return &fixture{router: r, source: src, publisher: pub, group: group, patients: patients}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestGetPatientReadThrough(t *testing.T) {
	f := newFixture(t)

	first := f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	if first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected MISS, got %q", first.Header().Get("X-Cache"))
	}

	second := f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	if second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("expected HIT, got %q", second.Header().Get("X-Cache"))
	}

	var p records.Patient
	if err := json.Unmarshal(second.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Name != "Jane Roe" {
		t.Fatalf("unexpected patient: %#v", p)
	}
	if n := f.source.count("patient"); n != 1 {
		t.Fatalf("expected 1 source call, got %d", n)
	}

	stats := f.patients.Stats()
	if stats.EncryptedItems != 1 || stats.PatientDataItems != 1 {
		t.Fatalf("expected a sealed patient entry, got %+v", stats)
	}
}

func TestGetPatientNotFound(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/patients/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if f.patients.Len() != 0 {
		t.Fatalf("misses must not be cached")
	}
}

func TestSourceFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.source.fail = errors.New("connection refused")

	rr := f.do(t, http.MethodGet, "/v1/patients/p-1/reports", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestReportsImagesAndAnalytics(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/v1/patients/p-1/reports",
		"/v1/patients/p-1/images",
		"/v1/analytics/survival",
	} {
		if rr := f.do(t, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if rr := f.do(t, http.MethodGet, path, ""); rr.Header().Get("X-Cache") != "HIT" {
			t.Fatalf("%s: expected second read to hit", path)
		}
	}

	// reports for a patient without any come back as an empty array
	rr := f.do(t, http.MethodGet, "/v1/patients/p-2/reports", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}

	stats := f.group.Stats()
	if stats["analytics"].PatientDataItems != 0 {
		t.Fatalf("analytics must not be patient-scoped: %+v", stats["analytics"])
	}
	if stats["reports"].PatientDataItems != 2 {
		t.Fatalf("expected 2 patient-scoped report entries: %+v", stats["reports"])
	}
}

func TestUpdatePatientPurgesAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	f.do(t, http.MethodGet, "/v1/patients/p-1/reports", "")
	f.do(t, http.MethodGet, "/v1/patients/p-2", "")
	f.do(t, http.MethodGet, "/v1/analytics/survival", "")

	rr := f.do(t, http.MethodPut, "/v1/patients/p-1", `{"name":"Jane Roe","stage":"III"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if got := f.publisher.purged; len(got) != 1 || got[0] != "p-1" {
		t.Fatalf("expected broadcast for p-1, got %v", got)
	}

	// the next read goes to the source and sees the new stage
	next := f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	if next.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected MISS after update")
	}
	var p records.Patient
	_ = json.Unmarshal(next.Body.Bytes(), &p)
	if p.Stage != "III" {
		t.Fatalf("expected stage III, got %q", p.Stage)
	}

	// other patients and global data survive
	if rr := f.do(t, http.MethodGet, "/v1/patients/p-2", ""); rr.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("p-2 should still be cached")
	}
	if rr := f.do(t, http.MethodGet, "/v1/analytics/survival", ""); rr.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("analytics should still be cached")
	}

	var cleared bool
	for _, rec := range f.patients.AuditTrail() {
		if rec.Action == audit.ActionClearPatient && rec.PatientID == "p-1" {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected CLEAR_PATIENT audit record")
	}
}

func TestUpdatePatientValidation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]int{
		`not json`:                 http.StatusBadRequest,
		`{"id":"p-2","name":"x"}`:  http.StatusBadRequest,
		`{"stage":"II"}`:           http.StatusBadRequest,
		`{"id":"p-1","name":"Ok"}`: http.StatusOK,
	}
	for body, want := range cases {
		if rr := f.do(t, http.MethodPut, "/v1/patients/p-1", body); rr.Code != want {
			t.Fatalf("body %s: expected %d, got %d", body, want, rr.Code)
		}
	}

	if rr := f.do(t, http.MethodPut, "/v1/patients/ghost", `{"name":"x"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown patient, got %d", rr.Code)
	}
}

func TestPurgePatientEndpoint(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("redis down")

	f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	f.do(t, http.MethodGet, "/v1/patients/p-1/images", "")

	rr := f.do(t, http.MethodDelete, "/v1/patients/p-1/cache", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 even when broadcast fails, got %d", rr.Code)
	}

	var resp purgeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PatientID != "p-1" || resp.Removed != 2 {
		t.Fatalf("unexpected purge response: %+v", resp)
	}

	// idempotent
	rr = f.do(t, http.MethodDelete, "/v1/patients/p-1/cache", "")
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Removed != 0 {
		t.Fatalf("expected 0 on second purge, got %d", resp.Removed)
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/v1/patients/p-1", "")

	rr := f.do(t, http.MethodGet, "/v1/cache/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stats map[string]medcache.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stats) != 4 {
		t.Fatalf("expected 4 caches, got %v", stats)
	}
	if stats["patients"].TotalItems != 1 {
		t.Fatalf("unexpected patients stats: %+v", stats["patients"])
	}
}

func TestSourceCancelWithLiveRequestIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.source.fail = context.Canceled

	rr := f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "upstream_unavailable") {
		t.Fatalf("expected an error body, got %q", rr.Body.String())
	}
}

func TestCancelledRequestDoesNotFailLiveRequest(t *testing.T) {
	f := newFixture(t)
	entered, release := f.source.holdFirst()

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := httptest.NewRecorder()
	cancelledDone := make(chan struct{})
	go func() {
		defer close(cancelledDone)
		req := httptest.NewRequest(http.MethodGet, "/v1/patients/p-1", nil).WithContext(ctx)
		f.router.ServeHTTP(cancelled, req)
	}()
	<-entered

	live := httptest.NewRecorder()
	liveDone := make(chan struct{})
	go func() {
		defer close(liveDone)
		f.router.ServeHTTP(live, httptest.NewRequest(http.MethodGet, "/v1/patients/p-1", nil))
	}()
	// let the live request join the in-flight read
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case <-cancelledDone:
	case <-time.After(time.Second):
		t.Fatal("cancelled request did not return")
	}
	if cancelled.Body.Len() != 0 {
		t.Fatalf("expected nothing written for the cancelled request, got %q", cancelled.Body.String())
	}

	close(release)
	select {
	case <-liveDone:
	case <-time.After(time.Second):
		t.Fatal("live request did not return")
	}
	if live.Code != http.StatusOK {
		t.Fatalf("expected 200 for the live request, got %d: %s", live.Code, live.Body.String())
	}
	var p records.Patient
	if err := json.Unmarshal(live.Body.Bytes(), &p); err != nil || p.Name != "Jane Roe" {
		t.Fatalf("unexpected live body %q: %v", live.Body.String(), err)
	}
	if n := f.source.count("patient"); n != 1 {
		t.Fatalf("expected the live request to share one source read, got %d", n)
	}
}

func TestUpdateDuringInFlightReadIsNotServedStale(t *testing.T) {
	f := newFixture(t)
	entered, release := f.source.holdFirst()

	before := httptest.NewRecorder()
	beforeDone := make(chan struct{})
	go func() {
		defer close(beforeDone)
		f.router.ServeHTTP(before, httptest.NewRequest(http.MethodGet, "/v1/patients/p-1", nil))
	}()
	<-entered

	rr := f.do(t, http.MethodPut, "/v1/patients/p-1", `{"name":"Jane Roe","stage":"III"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	stageOf := func(rr *httptest.ResponseRecorder) string {
		t.Helper()
		var p records.Patient
		if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
			t.Fatalf("decode %q: %v", rr.Body.String(), err)
		}
		return p.Stage
	}

	// a read after the update returns does not join the blocked read
	after := f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	if after.Header().Get("X-Cache") != "MISS" || stageOf(after) != "III" {
		t.Fatalf("expected a fresh MISS with stage III, got %s %q", after.Header().Get("X-Cache"), stageOf(after))
	}

	close(release)
	<-beforeDone
	if before.Code != http.StatusOK || stageOf(before) != "II" {
		t.Fatalf("read started before the update should see stage II, got %d %q", before.Code, before.Body.String())
	}

	// the blocked read finished last but must not have replaced the entry
	again := f.do(t, http.MethodGet, "/v1/patients/p-1", "")
	if again.Header().Get("X-Cache") != "HIT" || stageOf(again) != "III" {
		t.Fatalf("expected a HIT with stage III, got %s %q", again.Header().Get("X-Cache"), stageOf(again))
	}
}
