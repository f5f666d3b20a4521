package handler

import (
	"context"
	"net/http"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/mqtt"

	"github.com/gorilla/mux"
)

// History is the subset of the history store used for a health check.
type History interface {
	Health(ctx context.Context) error
}

// Cache is the subset of the hot cache used for a health check.
type Cache interface {
	Mode() string
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  struct {
		History   bool   `json:"history"`
		CacheMode string `json:"cacheMode"`
		MQTT      bool   `json:"mqtt"`
	} `json:"services"`
}

type HealthHandler struct {
	history    History
	cache      Cache
	mqttClient *mqtt.Client
	log        *logger.Logger
}

func NewHealthHandler(history History, c Cache, mqttClient *mqtt.Client, log *logger.Logger) *HealthHandler {
	return &HealthHandler{history: history, cache: c, mqttClient: mqttClient, log: log}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var response healthResponse
	response.Status = "healthy"
	response.Timestamp = time.Now()

	historyErr := h.history.Health(ctx)
	response.Services.History = historyErr == nil
	response.Services.CacheMode = h.cache.Mode()

	mqttConnected := h.mqttClient != nil && h.mqttClient.IsConnected()
	response.Services.MQTT = mqttConnected

	if !response.Services.History {
		response.Status = "degraded"
		h.log.Warn("health check degraded: history=%v cache=%s mqtt=%v", response.Services.History, response.Services.CacheMode, mqttConnected)
	}

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	respondJSON(w, statusCode, response)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.history.Health(ctx); err != nil {
		h.log.Warn("readiness check failed: history error: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
