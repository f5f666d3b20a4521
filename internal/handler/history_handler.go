package handler

import (
	"context"
	"net/http"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/gorilla/mux"
)

// HistoryStore is the subset of the history store the HTTP edge uses.
type HistoryStore interface {
	DeviceHistory(ctx context.Context, deviceID, period string) ([]models.HistoryRow, []models.Aggregate, error)
}

type HistoryHandler struct {
	history HistoryStore
	log     *logger.Logger
}

func NewHistoryHandler(history HistoryStore, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, log: log}
}

func (h *HistoryHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/history/{deviceId}", h.History).Methods("GET")
}

func (h *HistoryHandler) History(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1h"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	raw, aggs, err := h.history.DeviceHistory(ctx, deviceID, period)
	if err != nil {
		h.log.Error("history: device %s period %s: %v", deviceID, period, err)
		respondError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, struct {
		DeviceID   string              `json:"deviceId"`
		Period     string              `json:"period"`
		Raw        []models.HistoryRow `json:"raw,omitempty"`
		Aggregates []models.Aggregate  `json:"aggregates,omitempty"`
	}{DeviceID: deviceID, Period: period, Raw: raw, Aggregates: aggs})
}
