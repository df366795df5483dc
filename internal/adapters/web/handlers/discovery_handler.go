package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
	"github.com/lcalzada-xor/cvemap/internal/core/services/labscore"
	"github.com/lcalzada-xor/cvemap/internal/core/services/orchestrator"
)

// DiscoveryHandler serves discovery runs over HTTP.
type DiscoveryHandler struct {
	Service ports.DiscoveryService
	Store   ports.RecordStore
	Lab     *labscore.Calculator
}

func NewDiscoveryHandler(service ports.DiscoveryService, store ports.RecordStore, lab *labscore.Calculator) *DiscoveryHandler {
	return &DiscoveryHandler{Service: service, Store: store, Lab: lab}
}

// HandleDiscover runs a full discovery pass. Partial source failures still
// return 200 with the errors listed in the body; only a total failure is an
// error status.
func (h *DiscoveryHandler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	var opts domain.DiscoveryOptions
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.Service.DiscoverAll(r.Context(), opts)
	if err != nil {
		if errors.Is(err, orchestrator.ErrAllSourcesFailed) {
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Lab.Apply(result.Records)

	if err := h.Store.UpsertRecords(r.Context(), result.Records); err != nil {
		// Persistence trouble should not cost the caller their results.
		log.Printf("Failed to persist discovery results: %v", err)
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
