package handler

import (
	"net/http"

	"netwatch/internal/ingest"
	"netwatch/internal/logger"
	"netwatch/internal/scheduler"

	"github.com/gorilla/mux"
)

// SchedulerStatsSource supplies the current scheduler Stats.
type SchedulerStatsSource interface {
	Stats() scheduler.Stats
}

// BatchStatsSource supplies the current batch writer Stats.
type BatchStatsSource interface {
	QueueDepth() int
	Dropped() int
}

// CacheModeSource supplies the current hot cache mode ("redis" or "local").
type CacheModeSource interface {
	Mode() string
}

// IngestStatsSource supplies the unknown-host counters.
type IngestStatsSource interface {
	Snapshot() ingest.Snapshot
}

type systemStats struct {
	Scheduler scheduler.Stats `json:"scheduler"`
	Cache     struct {
		Mode string `json:"mode"`
	} `json:"cache"`
	Batch struct {
		QueueDepth int `json:"queueDepth"`
		Dropped    int `json:"dropped"`
	} `json:"batch"`
	Ingestor ingest.Snapshot `json:"ingestor"`
}

type SystemHandler struct {
	scheduler SchedulerStatsSource
	batch     BatchStatsSource
	cache     CacheModeSource
	ingestor  IngestStatsSource
	log       *logger.Logger
}

func NewSystemHandler(schedulerSrc SchedulerStatsSource, batch BatchStatsSource, c CacheModeSource, ingestor IngestStatsSource, log *logger.Logger) *SystemHandler {
	return &SystemHandler{scheduler: schedulerSrc, batch: batch, cache: c, ingestor: ingestor, log: log}
}

func (h *SystemHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/system/stats", h.Stats).Methods("GET")
}

func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var stats systemStats
	stats.Scheduler = h.scheduler.Stats()
	stats.Cache.Mode = h.cache.Mode()
	stats.Batch.QueueDepth = h.batch.QueueDepth()
	stats.Batch.Dropped = h.batch.Dropped()
	stats.Ingestor = h.ingestor.Snapshot()
	respondJSON(w, http.StatusOK, stats)
}
