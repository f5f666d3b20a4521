// internal/topology/store.go

// Package topology implements the topology config store: the authoritative
// {areas, devices, links, settings} snapshot, persisted as a single JSON
// file and reloaded on every write.
package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"
)

// Store owns the on-disk Config file and the in-memory Snapshot derived
// from it. Subsystems call Current() to get a read-only copy; they never
// mutate what it returns.
type Store struct {
	path string
	log  *logger.Logger

	mu   sync.RWMutex
	snap models.Snapshot

	watchMu sync.Mutex
	watchers []chan models.Snapshot
}

func New(path string, log *logger.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load reads the Config file from disk. If it does not exist, the
// compiled-in DefaultSnapshot is used and immediately persisted, so that
// the next restart finds a real file on disk.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("no config file at %s, seeding default snapshot", s.path)
		snap := models.DefaultSnapshot()
		snap.SavedAt = time.Now()
		s.mu.Lock()
		s.snap = snap
		s.mu.Unlock()
		return s.writeFile(snap)
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	normalize(&snap)
	if err := validate(snap); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// FilePath returns the on-disk path of the Config file.
func (s *Store) FilePath() string { return s.path }

// Current returns the active Snapshot. Callers must treat it as immutable.
func (s *Store) Current() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Save validates and atomically persists a new Snapshot, then notifies
// every watcher. On validation or I/O failure the previous snapshot
// remains active and the error is returned.
func (s *Store) Save(snap models.Snapshot) error {
	normalize(&snap)
	if err := validate(snap); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	snap.SavedAt = time.Now()

	if err := s.writeFile(snap); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Watch registers a channel that receives every successfully saved
// Snapshot. The channel is buffered so a slow consumer never blocks Save.
func (s *Store) Watch() <-chan models.Snapshot {
	ch := make(chan models.Snapshot, 4)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

func (s *Store) notify(snap models.Snapshot) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			s.log.Warn("config watcher channel full, dropping update")
		}
	}
}

// writeFile performs an atomic write: encode to a temp file in the same
// directory, fsync, then rename over the target. A rename within one
// filesystem is atomic, so readers never observe a partial file.
func (s *Store) writeFile(snap models.Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, s.path)
}

// normalize upgrades every legacy-shaped Link in place.
func normalize(snap *models.Snapshot) {
	for i := range snap.Links {
		snap.Links[i].Normalize()
	}
}

// validate requires non-empty, unique IDs for areas, devices and links, and
// that a Device with an AreaID names a known Area. Link endpoints are not
// checked: a link that references an unknown area or device is accepted.
// Schema shape is already guaranteed by json.Unmarshal.
func validate(snap models.Snapshot) error {
	areas := make(map[string]bool, len(snap.Areas))
	for _, a := range snap.Areas {
		if a.ID == "" {
			return fmt.Errorf("area with empty id")
		}
		if areas[a.ID] {
			return fmt.Errorf("duplicate area id %q", a.ID)
		}
		areas[a.ID] = true
	}

	devices := make(map[string]bool, len(snap.Devices))
	for _, d := range snap.Devices {
		if d.ID == "" {
			return fmt.Errorf("device with empty id")
		}
		if devices[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		if d.AreaID != "" && !areas[d.AreaID] {
			return fmt.Errorf("device %q references unknown area %q", d.ID, d.AreaID)
		}
		devices[d.ID] = true
	}

	ids := make(map[string]bool, len(snap.Links))
	for _, l := range snap.Links {
		if l.ID == "" {
			return fmt.Errorf("link with empty id")
		}
		if ids[l.ID] {
			return fmt.Errorf("duplicate link id %q", l.ID)
		}
		ids[l.ID] = true
	}

	return nil
}
