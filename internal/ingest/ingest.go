// internal/ingest/ingest.go

// Package ingest implements the push ingestor: HTTP and MQTT entry
// points for externally collected ping and SNMP samples, reverse-resolved
// against the current Config and fed into the same cache/history/flapping
// pipeline a native probe uses.
package ingest

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"netwatch/internal/cache"
	"netwatch/internal/logger"
	"netwatch/internal/models"
	"netwatch/internal/prober"
)

// ConfigProvider supplies the current topology snapshot for host resolution.
type ConfigProvider interface {
	Current() models.Snapshot
}

// BatchSink is the write path into the history store, via the batch writer.
type BatchSink interface {
	AddProbe(p models.ProbeResult)
	AddReading(r models.InterfaceReading)
}

// FlappingObserver is the write path into the flapping detector.
type FlappingObserver interface {
	Observe(ctx context.Context, reading models.InterfaceReading)
}

// Counters are the unknown-host metrics surfaced via /api/system/stats.
// They are process-lifetime only; not persisted across restart.
type Counters struct {
	unknownHostPing int64
	unknownHostSNMP int64
}

func (c *Counters) incPing() { atomic.AddInt64(&c.unknownHostPing, 1) }
func (c *Counters) incSNMP() { atomic.AddInt64(&c.unknownHostSNMP, 1) }

// Snapshot is the read-only view of Counters for stats assembly.
type Snapshot struct {
	UnknownHostPing int64 `json:"unknownHostPing"`
	UnknownHostSNMP int64 `json:"unknownHostSNMP"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		UnknownHostPing: atomic.LoadInt64(&c.unknownHostPing),
		UnknownHostSNMP: atomic.LoadInt64(&c.unknownHostSNMP),
	}
}

// PingSample is one element of the /metrics/ping POST body.
type PingSample struct {
	Name   string `json:"name"`
	Tags   struct {
		Host string `json:"host"`
	} `json:"tags"`
	Fields struct {
		AverageResponseMs float64  `json:"average_response_ms"`
		PercentPacketLoss *float64 `json:"percent_packet_loss,omitempty"`
	} `json:"fields"`
	Timestamp int64 `json:"timestamp"`
}

// SNMPSample is one element of the /metrics/snmp POST body. Name is either
// "interface" or "ubiquiti_wireless"; fields vary by name but share the
// counters relevant to InterfaceReading.
type SNMPSample struct {
	Name string `json:"name"`
	Tags struct {
		Hostname string `json:"hostname"`
		IfName   string `json:"ifName,omitempty"`
		IfIndex  *int   `json:"ifIndex,omitempty"`
		SSID     string `json:"ssid,omitempty"`
	} `json:"tags"`
	Fields struct {
		OperStatus  *int     `json:"operStatus,omitempty"`
		SpeedMbps   *float64 `json:"speed_mbps,omitempty"`
		InOctets    *int64   `json:"in_octets,omitempty"`
		OutOctets   *int64   `json:"out_octets,omitempty"`
		InErrors    *int64   `json:"in_errors,omitempty"`
		OutErrors   *int64   `json:"out_errors,omitempty"`
		InDiscards  *int64   `json:"in_discards,omitempty"`
		OutDiscards *int64   `json:"out_discards,omitempty"`
	} `json:"fields"`
	Timestamp int64 `json:"timestamp"`
}

// Ingestor resolves, classifies, and forwards externally collected samples.
// It never returns per-sample errors to the caller: unknown hosts are
// dropped with a counter increment instead.
type Ingestor struct {
	cfg      ConfigProvider
	cache    cache.Cache
	batch    BatchSink
	flapping FlappingObserver
	log      *logger.Logger

	Counters Counters
}

func New(cfg ConfigProvider, c cache.Cache, batch BatchSink, flap FlappingObserver, log *logger.Logger) *Ingestor {
	return &Ingestor{cfg: cfg, cache: c, batch: batch, flapping: flap, log: log}
}

// resolveHost reverse-looks-up a collector-reported host/hostname against
// the current Config: first by device IP (stripped of port), falling back
// to device name, since the external collector may report either.
func (ig *Ingestor) resolveHost(host string) (models.Device, bool) {
	snap := ig.cfg.Current()
	host = strings.TrimSpace(host)
	for _, d := range snap.Devices {
		if stripPort(d.IP) == host {
			return d, true
		}
	}
	for _, d := range snap.Devices {
		if strings.EqualFold(d.Name, host) {
			return d, true
		}
	}
	return models.Device{}, false
}

func stripPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 && !strings.Contains(addr[i+1:], ":") {
		return addr[:i]
	}
	return addr
}

// IngestPing processes a decoded /metrics/ping body. Resolved samples are
// classified identically to a native probe and fed into the hot cache
// and the batch writer.
func (ig *Ingestor) IngestPing(ctx context.Context, samples []PingSample) {
	snap := ig.cfg.Current()
	for _, s := range samples {
		device, ok := ig.resolveHost(s.Tags.Host)
		if !ok {
			ig.Counters.incPing()
			ig.log.Warn("ingest: unknown ping host %q", s.Tags.Host)
			continue
		}

		thresholds := snap.ThresholdsFor(device)
		loss := 0.0
		if s.Fields.PercentPacketLoss != nil {
			loss = *s.Fields.PercentPacketLoss
		}
		latency := s.Fields.AverageResponseMs
		status := prober.Classify(latency, loss, thresholds)

		ts := s.Timestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}

		result := models.ProbeResult{
			DeviceID:   device.ID,
			Status:     status,
			LatencyMs:  &latency,
			PacketLoss: &loss,
			Timestamp:  ts,
		}

		ig.publishDeviceStatus(ctx, result)
		ig.batch.AddProbe(result)
	}
}

// IngestSNMP processes a decoded /metrics/snmp body. Resolved interface
// samples are forwarded to the flapping detector and to the cache and
// batch writer.
func (ig *Ingestor) IngestSNMP(ctx context.Context, samples []SNMPSample) {
	for _, s := range samples {
		device, ok := ig.resolveHost(s.Tags.Hostname)
		if !ok {
			ig.Counters.incSNMP()
			ig.log.Warn("ingest: unknown snmp host %q", s.Tags.Hostname)
			continue
		}

		ifIndex := 0
		if s.Tags.IfIndex != nil {
			ifIndex = *s.Tags.IfIndex
		}
		ts := s.Timestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}

		reading := models.InterfaceReading{
			DeviceID:  device.ID,
			IfIndex:   ifIndex,
			IfName:    s.Tags.IfName,
			Timestamp: ts,
		}
		if s.Fields.OperStatus != nil {
			reading.OperStatus = *s.Fields.OperStatus
		}
		if s.Fields.SpeedMbps != nil {
			reading.SpeedMbps = *s.Fields.SpeedMbps
		}
		if s.Fields.InOctets != nil {
			reading.InOctets = *s.Fields.InOctets
		}
		if s.Fields.OutOctets != nil {
			reading.OutOctets = *s.Fields.OutOctets
		}
		if s.Fields.InErrors != nil {
			reading.InErrors = *s.Fields.InErrors
		}
		if s.Fields.OutErrors != nil {
			reading.OutErrors = *s.Fields.OutErrors
		}
		if s.Fields.InDiscards != nil {
			reading.InDiscards = *s.Fields.InDiscards
		}
		if s.Fields.OutDiscards != nil {
			reading.OutDiscards = *s.Fields.OutDiscards
		}

		channel := cache.ChannelInterfaceUpdate
		key := cache.InterfaceStatusKey(device.ID, ifIndex)
		if s.Name == "ubiquiti_wireless" {
			channel = cache.ChannelWirelessUpdate
			key = cache.WirelessStatusKey(device.ID)
		}

		if err := ig.cache.Set(ctx, key, reading, time.Hour); err != nil {
			ig.log.Warn("ingest: cache set failed for %s: %v", key, err)
		}
		if err := ig.cache.Publish(ctx, channel, reading); err != nil {
			ig.log.Warn("ingest: cache publish failed on %s: %v", channel, err)
		}

		ig.batch.AddReading(reading)
		ig.flapping.Observe(ctx, reading)
	}
}

func (ig *Ingestor) publishDeviceStatus(ctx context.Context, result models.ProbeResult) {
	status := models.DeviceStatus{
		DeviceID:    result.DeviceID,
		Status:      result.Status,
		LatencyMs:   result.LatencyMs,
		PacketLoss:  result.PacketLoss,
		LastChecked: time.UnixMilli(result.Timestamp).UTC().Format(time.RFC3339),
	}
	key := cache.DeviceStatusKey(result.DeviceID)
	if err := ig.cache.Set(ctx, key, status, time.Hour); err != nil {
		ig.log.Warn("ingest: cache set failed for %s: %v", key, err)
	}
	if err := ig.cache.Publish(ctx, cache.ChannelDeviceUpdate, status); err != nil {
		ig.log.Warn("ingest: cache publish failed on device:update: %v", err)
	}
}
