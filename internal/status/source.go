package status

import (
	"context"

	"netwatch/internal/cache"
	"netwatch/internal/models"
)

// ConfigProvider supplies the device ID set to look up.
type ConfigProvider interface {
	Current() models.Snapshot
}

// History is the subset of the history store used as a fallback when
// the hot cache has no live entry for a device.
type History interface {
	LatestPerDevice(ctx context.Context, windowMs int64) (map[string]models.DeviceStatus, error)
	LatestDownTimestamp(ctx context.Context, deviceID string) (int64, bool, error)
}

// CacheHistorySource reads each device's status from the hot cache,
// falling back to the history store's LatestPerDevice for devices with
// no live cache entry (e.g. right after a cold start, before the first
// probe completes).
type CacheHistorySource struct {
	cfg     ConfigProvider
	cache   cache.Cache
	history History
}

func NewCacheHistorySource(cfg ConfigProvider, c cache.Cache, h History) *CacheHistorySource {
	return &CacheHistorySource{cfg: cfg, cache: c, history: h}
}

const defaultWindowMs = 30 * 24 * 60 * 60 * 1000 // 30 days, matches history retention

func (s *CacheHistorySource) DeviceStatuses(ctx context.Context) (map[string]models.DeviceStatus, error) {
	snap := s.cfg.Current()

	fallback, err := s.history.LatestPerDevice(ctx, defaultWindowMs)
	if err != nil {
		fallback = nil
	}

	out := make(map[string]models.DeviceStatus, len(snap.Devices))
	for _, d := range snap.Devices {
		var ds models.DeviceStatus
		ok, err := s.cache.Get(ctx, cache.DeviceStatusKey(d.ID), &ds)
		if err == nil && ok {
			out[d.ID] = ds
			continue
		}
		if hist, ok := fallback[d.ID]; ok {
			out[d.ID] = hist
		}
	}
	return out, nil
}

func (s *CacheHistorySource) LatestDownTimestamp(ctx context.Context, deviceID string) (int64, bool, error) {
	return s.history.LatestDownTimestamp(ctx, deviceID)
}
