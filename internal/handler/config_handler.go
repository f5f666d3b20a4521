package handler

import (
	"encoding/json"
	"net/http"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/gorilla/mux"
)

// ConfigStore is the subset of the topology config store used by the HTTP edge.
type ConfigStore interface {
	Current() models.Snapshot
	Save(snap models.Snapshot) error
}

// Reloader applies a new Snapshot to the scheduler. A successful
// POST /api/config must call this before returning 200.
type Reloader interface {
	Reload(snap models.Snapshot)
}

type ConfigHandler struct {
	store    ConfigStore
	reloader Reloader
	log      *logger.Logger
}

func NewConfigHandler(store ConfigStore, reloader Reloader, log *logger.Logger) *ConfigHandler {
	return &ConfigHandler{store: store, reloader: reloader, log: log}
}

func (h *ConfigHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/config", h.Get).Methods("GET")
	r.HandleFunc("/config", h.Post).Methods("POST")
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Current())
}

// Post replaces the active Config. On validation or I/O failure the
// previous snapshot remains active and no reload fires.
func (h *ConfigHandler) Post(w http.ResponseWriter, r *http.Request) {
	var snap models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		h.log.Error("config: malformed body rejected: %v", err)
		respondError(w, http.StatusInternalServerError, "malformed config body")
		return
	}

	if err := h.store.Save(snap); err != nil {
		h.log.Error("config: save rejected: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.reloader.Reload(h.store.Current())
	respondJSON(w, http.StatusOK, h.store.Current())
}
