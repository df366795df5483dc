package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

// RecordsHandler serves the persisted record catalog.
type RecordsHandler struct {
	Store ports.RecordStore
}

func NewRecordsHandler(store ports.RecordStore) *RecordsHandler {
	return &RecordsHandler{Store: store}
}

// HandleList returns stored records matching the query filters.
func (h *RecordsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)

	records, err := h.Store.GetRecords(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

// HandleGet returns one record by fingerprint.
func (h *RecordsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	fingerprint := mux.Vars(r)["fingerprint"]

	record, err := h.Store.GetRecord(r.Context(), fingerprint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleStats returns catalog-level statistics.
func (h *RecordsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, err := h.Store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"total": total})
}

func filterFromQuery(r *http.Request) domain.RecordFilter {
	q := r.URL.Query()
	filter := domain.RecordFilter{
		Severity: q.Get("severity"),
		Source:   q.Get("source"),
		Search:   q.Get("search"),
	}
	if v, err := strconv.ParseFloat(q.Get("min_score"), 64); err == nil {
		filter.MinScore = v
	}
	if v, err := strconv.ParseFloat(q.Get("min_lab_score"), 64); err == nil {
		filter.MinLab = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("since_days")); err == nil {
		filter.SinceDays = v
	}
	return filter
}
