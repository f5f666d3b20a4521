package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"netwatch/internal/config"
	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	l, _ := logger.New(logger.Config{Level: logger.FATAL, Mode: logger.MINIMAL})
	s, err := Open(config.HistoryConfig{
		Path:            filepath.Join(dir, "history.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}, l)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(f float64) *float64 { return &f }

func TestStore_InsertAndLatestPerDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	err := s.InsertMany(ctx, []models.ProbeResult{
		{DeviceID: "dev-a", Status: models.StatusUp, LatencyMs: ptr(10), PacketLoss: ptr(0), Timestamp: now - 1000},
		{DeviceID: "dev-a", Status: models.StatusDown, LatencyMs: nil, PacketLoss: nil, Timestamp: now},
	}, nil)
	require.NoError(t, err)

	latest, err := s.LatestPerDevice(ctx, int64(30*24*time.Hour/time.Millisecond))
	require.NoError(t, err)
	require.Contains(t, latest, "dev-a")
	assert.Equal(t, models.StatusDown, latest["dev-a"].Status)
}

func TestStore_DeviceHistoryRawWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, s.InsertMany(ctx, []models.ProbeResult{
		{DeviceID: "dev-a", Status: models.StatusUp, LatencyMs: ptr(10), Timestamp: now - int64(30*time.Minute/time.Millisecond)},
		{DeviceID: "dev-a", Status: models.StatusUp, LatencyMs: ptr(12), Timestamp: now - int64(2*time.Hour/time.Millisecond)},
	}, nil))

	raw, aggs, err := s.DeviceHistory(ctx, "dev-a", "1h")
	require.NoError(t, err)
	assert.Nil(t, aggs)
	assert.Len(t, raw, 1)
}

func TestStore_UpsertAggregatesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bucketStart := (time.Now().UnixMilli() - int64(3*time.Hour/time.Millisecond)) / time.Hour.Milliseconds() * time.Hour.Milliseconds()

	var probes []models.ProbeResult
	for i := 0; i < 5; i++ {
		status := models.StatusUp
		if i == 0 {
			status = models.StatusDown
		}
		probes = append(probes, models.ProbeResult{
			DeviceID: "dev-a", Status: status, LatencyMs: ptr(float64(10 + i)),
			Timestamp: bucketStart + int64(i)*1000,
		})
	}
	require.NoError(t, s.InsertMany(ctx, probes, nil))

	require.NoError(t, s.UpsertAggregates(ctx))
	aggs1, err := s.aggregatesSince(ctx, "dev-a", models.PeriodHourly, 0)
	require.NoError(t, err)
	require.Len(t, aggs1, 1)

	require.NoError(t, s.UpsertAggregates(ctx))
	aggs2, err := s.aggregatesSince(ctx, "dev-a", models.PeriodHourly, 0)
	require.NoError(t, err)
	require.Len(t, aggs2, 1)
	assert.Equal(t, aggs1[0], aggs2[0])
	assert.Equal(t, 5, aggs2[0].PingCount)
	assert.Equal(t, 80.0, aggs2[0].UptimePercent)
	assert.True(t, aggs2[0].MinLatency <= aggs2[0].AvgLatency)
	assert.True(t, aggs2[0].AvgLatency <= aggs2[0].MaxLatency)
}

func TestStore_ResetTruncatesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMany(ctx, []models.ProbeResult{
		{DeviceID: "dev-a", Status: models.StatusUp, LatencyMs: ptr(1), Timestamp: time.Now().UnixMilli()},
	}, nil))

	require.NoError(t, s.Reset(ctx))

	latest, err := s.LatestPerDevice(ctx, int64(30*24*time.Hour/time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestStore_FlappingReportGroupsWithinWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, s.InsertFlappingEvent(ctx, models.FlappingEvent{
		DeviceID: "dev-a", IfIndex: 5, EventType: models.FlappingStatusChange,
		Severity: models.FlappingWarning, Timestamp: now,
	}))

	report, err := s.FlappingReport(ctx, 1)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, models.FlappingWarning, report[0].Severity)
}
