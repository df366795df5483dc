package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/services/labscore"
	"github.com/lcalzada-xor/cvemap/internal/core/services/orchestrator"
)

type fakeService struct {
	result  *domain.DiscoveryResult
	err     error
	lastOps domain.DiscoveryOptions
}

func (f *fakeService) DiscoverAll(ctx context.Context, opts domain.DiscoveryOptions) (*domain.DiscoveryResult, error) {
	f.lastOps = opts
	return f.result, f.err
}

func (f *fakeService) SourceHealth() []domain.SourceHealth {
	return []domain.SourceHealth{{Source: "nvd", Healthy: true}}
}

func (f *fakeService) Sources() []domain.SourceInfo {
	return []domain.SourceInfo{{Name: "nvd", Enabled: true}}
}

type fakeStore struct {
	records   []domain.EnrichedRecord
	getErr    error
	upsertErr error
	upserted  []domain.EnrichedRecord
}

func (f *fakeStore) UpsertRecords(ctx context.Context, records []domain.EnrichedRecord) error {
	f.upserted = append(f.upserted, records...)
	return f.upsertErr
}

func (f *fakeStore) GetRecord(ctx context.Context, fingerprint string) (*domain.EnrichedRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.records {
		if f.records[i].Fingerprint == fingerprint {
			return &f.records[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.EnrichedRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.records, nil
}

func (f *fakeStore) Count(ctx context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

func (f *fakeStore) Close() error { return nil }

func discoveryResult() *domain.DiscoveryResult {
	return &domain.DiscoveryResult{
		RunID: "run-1",
		Records: []domain.EnrichedRecord{
			{Fingerprint: "CVE-2024-0001", Score: 8.0, Confidence: 0.9, Sources: []string{"nvd"}},
		},
		PerSourceCounts: map[string]int{"nvd": 1},
	}
}

func TestHandleDiscoverSuccess(t *testing.T) {
	store := &fakeStore{}
	h := NewDiscoveryHandler(&fakeService{result: discoveryResult()}, store, labscore.NewCalculator())

	body := bytes.NewBufferString(`{"timeframe_years": 2, "severities": ["critical"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/discover", body)
	rr := httptest.NewRecorder()
	h.HandleDiscover(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var result domain.DiscoveryResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.Equal(t, "run-1", result.RunID)
	require.Len(t, result.Records, 1)
	assert.NotZero(t, result.Records[0].LabScore, "lab scores are applied before responding")

	require.Len(t, store.upserted, 1, "results are persisted")
}

func TestHandleDiscoverEmptyBodyUsesDefaults(t *testing.T) {
	svc := &fakeService{result: discoveryResult()}
	h := NewDiscoveryHandler(svc, &fakeStore{}, labscore.NewCalculator())

	req := httptest.NewRequest(http.MethodPost, "/api/discover", nil)
	rr := httptest.NewRecorder()
	h.HandleDiscover(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.DiscoveryOptions{}, svc.lastOps)
}

func TestHandleDiscoverInvalidBody(t *testing.T) {
	h := NewDiscoveryHandler(&fakeService{}, &fakeStore{}, labscore.NewCalculator())

	req := httptest.NewRequest(http.MethodPost, "/api/discover", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.HandleDiscover(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleDiscoverAllSourcesFailed(t *testing.T) {
	svc := &fakeService{
		result: &domain.DiscoveryResult{
			RunID:  "run-2",
			Errors: []domain.SourceError{{Source: "nvd", Message: "timeout"}},
		},
		err: orchestrator.ErrAllSourcesFailed,
	}
	h := NewDiscoveryHandler(svc, &fakeStore{}, labscore.NewCalculator())

	req := httptest.NewRequest(http.MethodPost, "/api/discover", nil)
	rr := httptest.NewRecorder()
	h.HandleDiscover(rr, req)

	require.Equal(t, http.StatusBadGateway, rr.Code)

	var result domain.DiscoveryResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.Len(t, result.Errors, 1, "the error details travel in the body")
}

func TestHandleDiscoverPersistenceFailureStillReturnsResults(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("disk full")}
	h := NewDiscoveryHandler(&fakeService{result: discoveryResult()}, store, labscore.NewCalculator())

	req := httptest.NewRequest(http.MethodPost, "/api/discover", nil)
	rr := httptest.NewRecorder()
	h.HandleDiscover(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleListRecords(t *testing.T) {
	store := &fakeStore{records: []domain.EnrichedRecord{
		{Fingerprint: "CVE-2024-0001"}, {Fingerprint: "CVE-2024-0002"},
	}}
	h := NewRecordsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/records?severity=high&min_score=7.0&limit=10", nil)
	rr := httptest.NewRecorder()
	h.HandleList(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Count   int                     `json:"count"`
		Records []domain.EnrichedRecord `json:"records"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
}

func TestFilterFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/records?severity=high&source=osv&search=apache&min_score=7.5&min_lab_score=5&limit=20&since_days=30", nil)

	filter := filterFromQuery(req)
	assert.Equal(t, "high", filter.Severity)
	assert.Equal(t, "osv", filter.Source)
	assert.Equal(t, "apache", filter.Search)
	assert.Equal(t, 7.5, filter.MinScore)
	assert.Equal(t, 5.0, filter.MinLab)
	assert.Equal(t, 20, filter.Limit)
	assert.Equal(t, 30, filter.SinceDays)
}

func TestHandleGetRecord(t *testing.T) {
	store := &fakeStore{records: []domain.EnrichedRecord{{Fingerprint: "CVE-2024-0001", Score: 8.0}}}
	h := NewRecordsHandler(store)

	router := mux.NewRouter()
	router.HandleFunc("/api/records/{fingerprint}", h.HandleGet)

	req := httptest.NewRequest(http.MethodGet, "/api/records/CVE-2024-0001", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var rec domain.EnrichedRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, 8.0, rec.Score)
}

func TestHandleGetRecordNotFound(t *testing.T) {
	h := NewRecordsHandler(&fakeStore{})

	router := mux.NewRouter()
	router.HandleFunc("/api/records/{fingerprint}", h.HandleGet)

	req := httptest.NewRequest(http.MethodGet, "/api/records/CVE-1999-0000", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleStats(t *testing.T) {
	store := &fakeStore{records: []domain.EnrichedRecord{{Fingerprint: "a"}, {Fingerprint: "b"}}}
	h := NewRecordsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/records/stats", nil)
	rr := httptest.NewRecorder()
	h.HandleStats(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]int64
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp["total"])
}

func TestHandleSourcesList(t *testing.T) {
	h := &SourcesHandler{Service: &fakeService{}}

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rr := httptest.NewRecorder()
	h.HandleList(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var infos []domain.SourceInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "nvd", infos[0].Name)
}

func TestHandleSourcesHealth(t *testing.T) {
	h := &SourcesHandler{Service: &fakeService{}}

	req := httptest.NewRequest(http.MethodGet, "/api/sources/health", nil)
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var health []domain.SourceHealth
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&health))
	require.Len(t, health, 1)
	assert.True(t, health[0].Healthy)
}
