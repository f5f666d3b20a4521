package topology

import (
	"os"
	"path/filepath"
	"testing"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logger.Logger {
	l, _ := logger.New(logger.Config{Level: logger.FATAL, Mode: logger.MINIMAL})
	return l
}

func TestStore_LoadSeedsDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s := New(path, newTestLogger())
	require.NoError(t, s.Load())

	snap := s.Current()
	assert.Len(t, snap.Devices, 2)
	assert.FileExists(t, path)
}

func TestStore_SaveThenLoadRoundtrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s := New(path, newTestLogger())
	require.NoError(t, s.Load())

	snap := s.Current()
	snap.Devices = append(snap.Devices, models.Device{ID: "dev-c", AreaID: "area-a", Name: "New", IP: "10.0.0.1", Criticality: models.CriticalityNormal})
	require.NoError(t, s.Save(snap))

	reloaded := New(path, newTestLogger())
	require.NoError(t, reloaded.Load())
	assert.Len(t, reloaded.Current().Devices, 3)
}

func TestStore_SaveRejectsUnknownAreaOnDevice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s := New(path, newTestLogger())
	require.NoError(t, s.Load())

	snap := s.Current()
	before := snap
	snap.Devices = append(snap.Devices, models.Device{ID: "dev-bad", AreaID: "no-such-area", IP: "10.0.0.2"})

	err := s.Save(snap)
	assert.Error(t, err)
	assert.Equal(t, before.Devices, s.Current().Devices)
}

func TestStore_SaveToleratesDanglingLinkReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s := New(path, newTestLogger())
	require.NoError(t, s.Load())

	snap := s.Current()
	snap.Links = append(snap.Links, models.Link{
		ID:        "link-dangling",
		Endpoints: [2]models.Endpoint{{AreaID: "area-a"}, {AreaID: "deleted-area"}},
	})
	assert.NoError(t, s.Save(snap))
}

func TestStore_NormalizeUpgradesLegacyLinkShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"areas":[{"id":"a"},{"id":"b"}],"devices":[],"links":[{"id":"l1","from":"a","to":"b"}],"settings":{"thresholds":{"latency":{"good":50,"degraded":150},"packetLoss":{"good":1,"degraded":5}}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	s := New(path, newTestLogger())
	require.NoError(t, s.Load())

	link := s.Current().Links[0]
	assert.Equal(t, "a", link.Endpoints[0].AreaID)
	assert.Equal(t, "b", link.Endpoints[1].AreaID)
	assert.Empty(t, link.From)
	assert.Empty(t, link.To)
}

func TestStore_WatchReceivesSavedSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s := New(path, newTestLogger())
	require.NoError(t, s.Load())

	ch := s.Watch()
	snap := s.Current()
	snap.Settings.Thresholds.Latency.Good = 99
	require.NoError(t, s.Save(snap))

	select {
	case got := <-ch:
		assert.Equal(t, float64(99), got.Settings.Thresholds.Latency.Good)
	default:
		t.Fatal("expected watcher notification")
	}
}
