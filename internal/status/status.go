// internal/status/status.go

// Package status implements status derivation: stateless composition
// of per-area and per-link status from a Config snapshot and the set of
// live DeviceStatus entries, on every read.
package status

import (
	"context"
	"fmt"
	"time"

	"netwatch/internal/models"
)

// DeviceStatusSource supplies the live per-device view, typically backed
// by the hot cache with a fallback to the history store's LatestPerDevice.
type DeviceStatusSource interface {
	DeviceStatuses(ctx context.Context) (map[string]models.DeviceStatus, error)
}

// OfflineDurationSource supplies the timestamp of a device's most recent
// down row, used to attach offlineDuration to down devices.
type OfflineDurationSource interface {
	LatestDownTimestamp(ctx context.Context, deviceID string) (int64, bool, error)
}

// Deriver composes a StatusTree from a Config snapshot. Now is injectable
// so offlineDuration can be computed deterministically in tests.
type Deriver struct {
	statuses DeviceStatusSource
	offline  OfflineDurationSource
	now      func() time.Time
}

func New(statuses DeviceStatusSource, offline OfflineDurationSource, now func() time.Time) *Deriver {
	if now == nil {
		now = time.Now
	}
	return &Deriver{statuses: statuses, offline: offline, now: now}
}

// Derive builds the StatusTree for the given snapshot.
func (d *Deriver) Derive(ctx context.Context, snap models.Snapshot) (models.StatusTree, error) {
	devStatuses, err := d.statuses.DeviceStatuses(ctx)
	if err != nil {
		return models.StatusTree{}, fmt.Errorf("status: load device statuses: %w", err)
	}

	now := d.now()
	devices := make(map[string]models.DeviceStatus, len(devStatuses))
	for id, ds := range devStatuses {
		if ds.Status == models.StatusDown {
			if ts, ok, err := d.offline.LatestDownTimestamp(ctx, id); err == nil && ok {
				dur := now.UnixMilli() - ts
				ds.OfflineDuration = &dur
			}
		}
		devices[id] = ds
	}

	areaStatus := make(map[string]models.Status, len(snap.Areas))
	areas := make([]models.AreaStatus, 0, len(snap.Areas))
	for _, area := range snap.Areas {
		st := composeArea(area.ID, snap.Devices, devices)
		areaStatus[area.ID] = st
		areas = append(areas, models.AreaStatus{AreaID: area.ID, Name: area.Name, Status: st})
	}

	links := make([]models.LinkStatus, 0, len(snap.Links))
	for _, link := range snap.Links {
		ls, ok := composeLink(link, snap, devices, areaStatus)
		if !ok {
			continue
		}
		links = append(links, ls)
	}

	return models.StatusTree{Devices: devices, Areas: areas, Links: links}, nil
}

// composeArea derives an AreaStatus: down if any member device is down,
// else degraded if any is degraded, else up. Devices with no status
// default to unknown and never degrade the area.
func composeArea(areaID string, allDevices []models.Device, statuses map[string]models.DeviceStatus) models.Status {
	sawDegraded := false
	for _, dev := range allDevices {
		if dev.AreaID != areaID {
			continue
		}
		ds, ok := statuses[dev.ID]
		if !ok {
			continue
		}
		switch ds.Status {
		case models.StatusDown:
			return models.StatusDown
		case models.StatusDegraded:
			sawDegraded = true
		}
	}
	if sawDegraded {
		return models.StatusDegraded
	}
	return models.StatusUp
}

// composeLink derives a LinkStatus. The second return is false
// when the link references an area or device no longer present in the
// snapshot, in which case it must be omitted entirely rather than
// returned as unknown.
func composeLink(link models.Link, snap models.Snapshot, deviceStatuses map[string]models.DeviceStatus, areaStatuses map[string]models.Status) (models.LinkStatus, bool) {
	var endpointStatuses [2]models.Status
	var latencies []float64

	for i, ep := range link.Endpoints {
		if !endpointReferenceValid(ep, snap) {
			return models.LinkStatus{}, false
		}

		st := models.StatusUnknown
		if ep.DeviceID != "" {
			if ds, ok := deviceStatuses[ep.DeviceID]; ok {
				st = ds.Status
				if ds.LatencyMs != nil {
					latencies = append(latencies, *ds.LatencyMs)
				}
			}
		} else if ep.AreaID != "" {
			if as, ok := areaStatuses[ep.AreaID]; ok {
				st = as
			}
		}
		endpointStatuses[i] = st
	}

	composed := models.StatusUnknown
	sawUp, sawDegraded := false, false
	for _, st := range endpointStatuses {
		switch st {
		case models.StatusDown:
			composed = models.StatusDown
		case models.StatusDegraded:
			sawDegraded = true
		case models.StatusUp:
			sawUp = true
		}
	}
	if composed != models.StatusDown {
		if sawDegraded {
			composed = models.StatusDegraded
		} else if sawUp {
			composed = models.StatusUp
		}
	}

	ls := models.LinkStatus{LinkID: link.ID, Status: composed}
	if len(latencies) > 0 {
		ls.Latency = meanDistinct(latencies)
	}
	return ls, true
}

// endpointReferenceValid reports whether ep's pinned deviceId or areaId
// still exists in the current snapshot.
func endpointReferenceValid(ep models.Endpoint, snap models.Snapshot) bool {
	if ep.DeviceID != "" {
		_, ok := snap.DeviceByID(ep.DeviceID)
		return ok
	}
	if ep.AreaID != "" {
		_, ok := snap.AreaByID(ep.AreaID)
		return ok
	}
	return true
}

// meanDistinct averages distinct values in vs and rounds to 2 decimals:
// two endpoints pinned to the same device must not double-count its
// latency when a link spans them both.
func meanDistinct(vs []float64) *float64 {
	seen := make(map[float64]bool, len(vs))
	var sum float64
	var n int
	for _, v := range vs {
		if seen[v] {
			continue
		}
		seen[v] = true
		sum += v
		n++
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	rounded := float64(int(mean*100+0.5)) / 100
	return &rounded
}
