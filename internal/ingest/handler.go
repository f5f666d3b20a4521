package ingest

import (
	"context"
	"encoding/json"
	"net/http"

	"netwatch/internal/logger"
	"netwatch/internal/mqtt"

	"github.com/gorilla/mux"
)

// Handler exposes the Ingestor over HTTP and, optionally, MQTT.
type Handler struct {
	ing *Ingestor
	log *logger.Logger
}

func NewHandler(ing *Ingestor, log *logger.Logger) *Handler {
	return &Handler{ing: ing, log: log}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/metrics/ping", h.Ping).Methods("POST")
	r.HandleFunc("/metrics/snmp", h.SNMP).Methods("POST")
}

// Ping accepts an array of PingSample and replies 204, even for
// partially-unresolved batches; a body that does not decode gets 400.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	var samples []PingSample
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		h.log.Warn("ingest: malformed ping payload: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.ing.IngestPing(r.Context(), samples)
	w.WriteHeader(http.StatusNoContent)
}

// SNMP accepts an array of SNMPSample and replies 204; a body that does
// not decode gets 400.
func (h *Handler) SNMP(w http.ResponseWriter, r *http.Request) {
	var samples []SNMPSample
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		h.log.Warn("ingest: malformed snmp payload: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.ing.IngestSNMP(r.Context(), samples)
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeMQTT wires the alternate push-ingestion transport: the same
// schemas arrive as retained-or-live MQTT publications instead of HTTP
// POSTs.
func SubscribeMQTT(client *mqtt.Client, ing *Ingestor, log *logger.Logger) error {
	if err := client.Subscribe("metrics/ping", func(_ string, payload []byte) error {
		var samples []PingSample
		if err := json.Unmarshal(payload, &samples); err != nil {
			log.Warn("ingest: malformed mqtt ping payload: %v", err)
			return nil
		}
		ing.IngestPing(context.Background(), samples)
		return nil
	}); err != nil {
		return err
	}

	return client.Subscribe("metrics/snmp", func(_ string, payload []byte) error {
		var samples []SNMPSample
		if err := json.Unmarshal(payload, &samples); err != nil {
			log.Warn("ingest: malformed mqtt snmp payload: %v", err)
			return nil
		}
		ing.IngestSNMP(context.Background(), samples)
		return nil
	})
}
