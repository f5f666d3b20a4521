package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/gorilla/mux"
)

// ConfigProvider supplies the current topology snapshot.
type ConfigProvider interface {
	Current() models.Snapshot
}

// StatusDeriver composes the live StatusTree.
type StatusDeriver interface {
	Derive(ctx context.Context, snap models.Snapshot) (models.StatusTree, error)
}

type StatusHandler struct {
	cfg     ConfigProvider
	deriver StatusDeriver
	log     *logger.Logger
}

func NewStatusHandler(cfg ConfigProvider, deriver StatusDeriver, log *logger.Logger) *StatusHandler {
	return &StatusHandler{cfg: cfg, deriver: deriver, log: log}
}

func (h *StatusHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/dashboard", h.Dashboard).Methods("GET")
}

// Status serves GET /api/status with Cache-Control and an ETag derived
// from a content hash of the response body.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap := h.cfg.Current()
	tree, err := h.deriver.Derive(ctx, snap)
	if err != nil {
		h.log.Error("status: derive failed: %v", err)
		respondError(w, http.StatusInternalServerError, "status derivation failed")
		return
	}

	writeETagged(w, r, tree)
}

// Dashboard serves GET /api/dashboard: the same StatusTree plus the
// current topology, for clients that want both in one round trip.
func (h *StatusHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap := h.cfg.Current()
	tree, err := h.deriver.Derive(ctx, snap)
	if err != nil {
		h.log.Error("dashboard: derive failed: %v", err)
		respondError(w, http.StatusInternalServerError, "status derivation failed")
		return
	}

	payload := struct {
		Areas   []models.Area      `json:"areas"`
		Devices []models.Device    `json:"devices"`
		Links   []models.Link      `json:"links"`
		Status  models.StatusTree  `json:"status"`
	}{Areas: snap.Areas, Devices: snap.Devices, Links: snap.Links, Status: tree}

	writeETagged(w, r, payload)
}

// writeETagged marshals data, sets a short-lived Cache-Control header and
// a content-hash ETag, and replies 304 when the client's If-None-Match
// already matches.
func writeETagged(w http.ResponseWriter, r *http.Request, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode failed")
		return
	}

	etag := contentETag(body)
	w.Header().Set("Cache-Control", "max-age=2")
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func contentETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:])[:16] + `"`
}
