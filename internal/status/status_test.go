package status

import (
	"context"
	"testing"
	"time"

	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusSource struct {
	statuses map[string]models.DeviceStatus
}

func (f fakeStatusSource) DeviceStatuses(context.Context) (map[string]models.DeviceStatus, error) {
	return f.statuses, nil
}

type fakeOfflineSource struct {
	downAt map[string]int64
}

func (f fakeOfflineSource) LatestDownTimestamp(_ context.Context, deviceID string) (int64, bool, error) {
	ts, ok := f.downAt[deviceID]
	return ts, ok, nil
}

func latency(v float64) *float64 { return &v }

func TestDerive_AreaComposition(t *testing.T) {
	snap := models.Snapshot{
		Areas: []models.Area{{ID: "a1"}},
		Devices: []models.Device{
			{ID: "d1", AreaID: "a1"},
			{ID: "d2", AreaID: "a1"},
		},
	}

	cases := []struct {
		name   string
		stats  map[string]models.DeviceStatus
		expect models.Status
	}{
		{"up+up", map[string]models.DeviceStatus{"d1": {Status: models.StatusUp}, "d2": {Status: models.StatusUp}}, models.StatusUp},
		{"up+degraded", map[string]models.DeviceStatus{"d1": {Status: models.StatusUp}, "d2": {Status: models.StatusDegraded}}, models.StatusDegraded},
		{"down+up", map[string]models.DeviceStatus{"d1": {Status: models.StatusDown}, "d2": {Status: models.StatusUp}}, models.StatusDown},
		{"unknown+unknown", map[string]models.DeviceStatus{}, models.StatusUp},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := New(fakeStatusSource{statuses: c.stats}, fakeOfflineSource{}, nil)
			tree, err := d.Derive(context.Background(), snap)
			require.NoError(t, err)
			require.Len(t, tree.Areas, 1)
			assert.Equal(t, c.expect, tree.Areas[0].Status)
		})
	}
}

func TestDerive_LinkFilteringOmitsDeletedArea(t *testing.T) {
	snap := models.Snapshot{
		Areas: []models.Area{{ID: "a1"}},
		Links: []models.Link{
			{ID: "link-1", Endpoints: [2]models.Endpoint{{AreaID: "a1"}, {AreaID: "a2-deleted"}}},
		},
	}

	d := New(fakeStatusSource{statuses: map[string]models.DeviceStatus{}}, fakeOfflineSource{}, nil)
	tree, err := d.Derive(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, tree.Links)
}

func TestDerive_LinkComposition(t *testing.T) {
	snap := models.Snapshot{
		Devices: []models.Device{{ID: "d1"}, {ID: "d2"}},
		Links: []models.Link{
			{ID: "link-1", Endpoints: [2]models.Endpoint{{DeviceID: "d1"}, {DeviceID: "d2"}}},
		},
	}

	cases := []struct {
		name   string
		d1, d2 models.Status
		expect models.Status
	}{
		{"up+down", models.StatusUp, models.StatusDown, models.StatusDown},
		{"degraded+up", models.StatusDegraded, models.StatusUp, models.StatusDegraded},
		{"up+up", models.StatusUp, models.StatusUp, models.StatusUp},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			stats := map[string]models.DeviceStatus{
				"d1": {Status: c.d1, LatencyMs: latency(10)},
				"d2": {Status: c.d2, LatencyMs: latency(20)},
			}
			d := New(fakeStatusSource{statuses: stats}, fakeOfflineSource{}, nil)
			tree, err := d.Derive(context.Background(), snap)
			require.NoError(t, err)
			require.Len(t, tree.Links, 1)
			assert.Equal(t, c.expect, tree.Links[0].Status)
			require.NotNil(t, tree.Links[0].Latency)
			assert.InDelta(t, 15.0, *tree.Links[0].Latency, 0.01)
		})
	}
}

func TestDerive_OfflineDurationAttached(t *testing.T) {
	now := time.Unix(1000, 0)
	downAt := now.Add(-90 * time.Second).UnixMilli()

	snap := models.Snapshot{Devices: []models.Device{{ID: "d1"}}}
	stats := map[string]models.DeviceStatus{"d1": {Status: models.StatusDown}}
	d := New(fakeStatusSource{statuses: stats}, fakeOfflineSource{downAt: map[string]int64{"d1": downAt}}, func() time.Time { return now })

	tree, err := d.Derive(context.Background(), snap)
	require.NoError(t, err)
	require.NotNil(t, tree.Devices["d1"].OfflineDuration)
	assert.InDelta(t, 90000, *tree.Devices["d1"].OfflineDuration, 1000)
}
