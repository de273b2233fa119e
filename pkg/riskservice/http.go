package riskservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/cardiorisk/pkg/common/logger"
	"github.com/synaptica-ai/cardiorisk/pkg/common/middleware"
	"github.com/synaptica-ai/cardiorisk/pkg/loader"
	"github.com/synaptica-ai/cardiorisk/pkg/observability/metrics"
	"github.com/synaptica-ai/cardiorisk/pkg/pipeline"
	"github.com/synaptica-ai/cardiorisk/pkg/report"
)

type HTTPHandler struct {
	service     *Service
	maxBody     int64
	uploadLimit func(http.Handler) http.Handler
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody, uploadLimit: middleware.RateLimit(0, 0)}
}

// LimitUploads rate limits run submissions; lookups stay unlimited.
func (h *HTTPHandler) LimitUploads(rps, burst int) *HTTPHandler {
	h.uploadLimit = middleware.RateLimit(rps, burst)
	return h
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1/risk").Subrouter()
	api.Handle("/runs", h.uploadLimit(http.HandlerFunc(h.handleCreateRun))).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/records", h.handleRunRecords).Methods(http.MethodGet)
	api.HandleFunc("/encounters/{id}", h.handleEncounter).Methods(http.MethodGet)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// handleCreateRun expects a multipart form with "notes" and "labs" file parts.
func (h *HTTPHandler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		logger.Log.WithError(err).Warn("invalid run upload")
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	notes, notesHeader, err := r.FormFile("notes")
	if err != nil {
		http.Error(w, "notes file required", http.StatusBadRequest)
		return
	}
	defer notes.Close()
	labs, labsHeader, err := r.FormFile("labs")
	if err != nil {
		http.Error(w, "labs file required", http.StatusBadRequest)
		return
	}
	defer labs.Close()

	result, err := h.service.Process(r.Context(), pipeline.Inputs{
		Notes:       notes,
		NotesFormat: formatOf(notesHeader),
		Labs:        labs,
		LabsFormat:  formatOf(labsHeader),
	})
	if err != nil {
		if IsInputError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to score run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result.Summary)
}

func (h *HTTPHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, err := h.service.Run(r.Context(), id)
	if err != nil {
		writeLookupError(w, err, "run")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (h *HTTPHandler) handleRunRecords(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	records, err := h.service.Records(r.Context(), id)
	if err != nil {
		writeLookupError(w, err, "run")
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	default:
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+formatOrCSV(format)))
	if err := report.Write(w, format, records); err != nil {
		logger.Log.WithError(err).WithField("run_id", id).Error("failed to export run records")
	}
}

func (h *HTTPHandler) handleEncounter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	records, err := h.service.Encounter(r.Context(), id)
	if err != nil {
		writeLookupError(w, err, "encounter")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"encounter_id": id,
		"records":      records,
	})
}

func writeLookupError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, ErrStoreDisabled):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		logger.Log.WithError(err).Errorf("failed to fetch %s", what)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func formatOf(header *multipart.FileHeader) loader.Format {
	if header == nil {
		return loader.FormatCSV
	}
	return loader.FormatFromPath(header.Filename)
}

func formatOrCSV(format string) string {
	if format == "" {
		return "csv"
	}
	return format
}
