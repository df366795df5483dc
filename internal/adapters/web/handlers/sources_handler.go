package handlers

import (
	"net/http"

	"github.com/lcalzada-xor/cvemap/internal/core/ports"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reliability"
)

// SourcesHandler exposes source registration, health and reliability state.
type SourcesHandler struct {
	Service     ports.DiscoveryService
	Reliability *reliability.Service
}

func NewSourcesHandler(service ports.DiscoveryService, rel *reliability.Service) *SourcesHandler {
	return &SourcesHandler{Service: service, Reliability: rel}
}

// HandleList returns every registered source and its capabilities.
func (h *SourcesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Sources())
}

// HandleHealth returns the latest health snapshot per source.
func (h *SourcesHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.SourceHealth())
}

// HandleReliability returns the blended reliability metrics per source.
func (h *SourcesHandler) HandleReliability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Reliability.Metrics())
}
