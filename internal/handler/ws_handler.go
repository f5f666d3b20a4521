package handler

import (
	"net/http"

	"netwatch/internal/logger"
	"netwatch/internal/websocket"

	"github.com/gorilla/mux"
)

type WSHandler struct {
	hub *websocket.Hub
	log *logger.Logger
}

func NewWSHandler(hub *websocket.Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.Serve)
}

// Serve upgrades the connection; on connect no snapshot is pushed, the
// client fetches /api/status and then receives deltas.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, w, r, h.log)
}
