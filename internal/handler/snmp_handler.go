package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/gorilla/mux"
)

// SNMPStore is the subset of the history store used for SNMP reads.
type SNMPStore interface {
	InterfaceReadings(ctx context.Context, deviceID string) ([]models.InterfaceReading, error)
	FlappingReport(ctx context.Context, hours int) ([]models.FlappingEvent, error)
}

type SNMPHandler struct {
	history SNMPStore
	log     *logger.Logger
}

func NewSNMPHandler(history SNMPStore, log *logger.Logger) *SNMPHandler {
	return &SNMPHandler{history: history, log: log}
}

func (h *SNMPHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/snmp/interfaces/{deviceId}", h.Interfaces).Methods("GET")
	r.HandleFunc("/snmp/flapping-report", h.FlappingReport).Methods("GET")
}

func (h *SNMPHandler) Interfaces(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	readings, err := h.history.InterfaceReadings(ctx, deviceID)
	if err != nil {
		h.log.Error("snmp: interfaces for %s: %v", deviceID, err)
		respondError(w, http.StatusInternalServerError, "interface lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, readings)
}

func (h *SNMPHandler) FlappingReport(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			hours = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := h.history.FlappingReport(ctx, hours)
	if err != nil {
		h.log.Error("snmp: flapping report: %v", err)
		respondError(w, http.StatusInternalServerError, "flapping report failed")
		return
	}
	respondJSON(w, http.StatusOK, events)
}
