package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"netwatch/internal/cache"
	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct{ snap models.Snapshot }

func (f fakeConfig) Current() models.Snapshot { return f.snap }

type fakeBatch struct {
	mu       sync.Mutex
	probes   []models.ProbeResult
	readings []models.InterfaceReading
}

func (b *fakeBatch) AddProbe(p models.ProbeResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes = append(b.probes, p)
}

func (b *fakeBatch) AddReading(r models.InterfaceReading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readings = append(b.readings, r)
}

type fakeFlapping struct {
	mu    sync.Mutex
	count int
}

func (f *fakeFlapping) Observe(_ context.Context, _ models.InterfaceReading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func testLogger() *logger.Logger {
	l, _ := logger.New(logger.Config{Level: logger.FATAL, Mode: logger.MINIMAL})
	return l
}

func snapshotWithDevice() models.Snapshot {
	return models.Snapshot{
		Devices: []models.Device{{ID: "dev-a", Name: "core-switch", IP: "10.0.0.1"}},
		Settings: models.Settings{Thresholds: models.Thresholds{
			Latency:    models.LatencyThreshold{Good: 50, Degraded: 150},
			PacketLoss: models.PacketLossThreshold{Good: 1, Degraded: 5},
		}},
	}
}

func TestIngestor_PingResolvesByIPAndClassifies(t *testing.T) {
	cfg := fakeConfig{snap: snapshotWithDevice()}
	batch := &fakeBatch{}
	ig := New(cfg, noopCache{}, batch, &fakeFlapping{}, testLogger())

	ig.IngestPing(context.Background(), []PingSample{
		{Tags: struct {
			Host string `json:"host"`
		}{Host: "10.0.0.1"}, Fields: struct {
			AverageResponseMs float64  `json:"average_response_ms"`
			PercentPacketLoss *float64 `json:"percent_packet_loss,omitempty"`
		}{AverageResponseMs: 30}},
	})

	require.Len(t, batch.probes, 1)
	assert.Equal(t, "dev-a", batch.probes[0].DeviceID)
	assert.Equal(t, models.StatusUp, batch.probes[0].Status)
}

func TestIngestor_UnknownPingHostIncrementsCounter(t *testing.T) {
	cfg := fakeConfig{snap: snapshotWithDevice()}
	batch := &fakeBatch{}
	ig := New(cfg, noopCache{}, batch, &fakeFlapping{}, testLogger())

	ig.IngestPing(context.Background(), []PingSample{
		{Tags: struct {
			Host string `json:"host"`
		}{Host: "192.0.2.1"}},
	})

	assert.Empty(t, batch.probes)
	assert.Equal(t, int64(1), ig.Counters.Snapshot().UnknownHostPing)
}

func TestIngestor_SNMPResolvesAndForwardsToFlapping(t *testing.T) {
	cfg := fakeConfig{snap: snapshotWithDevice()}
	batch := &fakeBatch{}
	flap := &fakeFlapping{}
	ig := New(cfg, noopCache{}, batch, flap, testLogger())

	ifIndex := 5
	ig.IngestSNMP(context.Background(), []SNMPSample{
		{Name: "interface", Tags: struct {
			Hostname string `json:"hostname"`
			IfName   string `json:"ifName,omitempty"`
			IfIndex  *int   `json:"ifIndex,omitempty"`
			SSID     string `json:"ssid,omitempty"`
		}{Hostname: "core-switch", IfIndex: &ifIndex}},
	})

	require.Len(t, batch.readings, 1)
	assert.Equal(t, "dev-a", batch.readings[0].DeviceID)
	assert.Equal(t, 1, flap.count)
}

// noopCache implements cache.Cache with no-op bodies, avoiding a dependency
// on the concrete redis/local cache implementations in unit tests.
type noopCache struct{}

func (noopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (noopCache) Get(context.Context, string, interface{}) (bool, error)        { return false, nil }
func (noopCache) Publish(context.Context, string, interface{}) error            { return nil }
func (noopCache) Subscribe(context.Context, ...string) <-chan cache.Event       { return nil }
func (noopCache) Mode() string                                                  { return "local" }
func (noopCache) Close() error                                                  { return nil }
