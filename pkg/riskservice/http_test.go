package riskservice

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

func newRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	NewHTTPHandler(svc, 10<<20).Register(router)
	return router
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, content := range files {
		part, err := mw.CreateFormFile(field, field+".csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestCreateRunAndFetch(t *testing.T) {
	store := newMemoryStore()
	router := newRouter(NewService(newTestPipeline(t), WithStore(store)))

	body, contentType := multipartBody(t, map[string]string{"notes": notesCSV, "labs": labsCSV})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary models.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Labels[models.RiskModerate])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/runs/"+summary.RunID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/runs/"+summary.RunID+"/records", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Encounter_ID,Age_Category,"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/runs/"+summary.RunID+"/records?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/runs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/encounters/E1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	router := newRouter(NewService(newTestPipeline(t)))

	body, contentType := multipartBody(t, map[string]string{"notes": notesCSV})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = multipartBody(t, map[string]string{"notes": notesCSV, "labs": "Encounter_ID\nE1\n"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/risk/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Test_Name")
}

func TestLookupWithoutStoreIsNotImplemented(t *testing.T) {
	router := newRouter(NewService(newTestPipeline(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/runs/abc", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newRouter(NewService(newTestPipeline(t)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cardiorisk_runs_completed_total")
}
