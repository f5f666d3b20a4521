// internal/history/store.go

// Package history implements the durable history store: a SQLite-backed
// relational store with four tables (raw history, closed-bucket
// aggregates, flapping events, interface readings), transactional
// ingestion, retention
// expiry, and corruption quarantine-and-recreate recovery.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"netwatch/internal/config"
	"netwatch/internal/logger"
	"netwatch/internal/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	status TEXT NOT NULL,
	latency_ms REAL,
	packet_loss REAL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_device_ts ON history(device_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_history_ts ON history(timestamp);

CREATE TABLE IF NOT EXISTS aggregates (
	device_id TEXT NOT NULL,
	period_type TEXT NOT NULL,
	period_start INTEGER NOT NULL,
	avg_latency REAL NOT NULL,
	min_latency REAL NOT NULL,
	max_latency REAL NOT NULL,
	avg_packet_loss REAL NOT NULL,
	uptime_percent REAL NOT NULL,
	ping_count INTEGER NOT NULL,
	down_count INTEGER NOT NULL,
	degraded_count INTEGER NOT NULL,
	PRIMARY KEY (device_id, period_type, period_start)
);

CREATE TABLE IF NOT EXISTS flapping_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	if_index INTEGER NOT NULL,
	if_name TEXT,
	event_type TEXT NOT NULL,
	from_value TEXT,
	to_value TEXT,
	severity TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flapping_device_ts ON flapping_events(device_id, if_index, timestamp);

CREATE TABLE IF NOT EXISTS interface_readings (
	device_id TEXT NOT NULL,
	if_index INTEGER NOT NULL,
	if_name TEXT,
	oper_status INTEGER,
	speed_mbps REAL,
	in_octets INTEGER,
	out_octets INTEGER,
	in_errors INTEGER,
	out_errors INTEGER,
	in_discards INTEGER,
	out_discards INTEGER,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (device_id, if_index)
);
`

// ErrResetUnsafe is returned by Reset when the post-delete row count could
// not be verified to be zero.
var ErrResetUnsafe = fmt.Errorf("history: reset could not be verified safe")

type Store struct {
	db   *sql.DB
	path string
	cfg  config.HistoryConfig
	log  *logger.Logger
}

func Open(cfg config.HistoryConfig, log *logger.Logger) (*Store, error) {
	s := &Store{path: cfg.Path, cfg: cfg, log: log}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// withRetry runs fn once; on an integrity-failure error it quarantines the
// current file, recreates an empty store, and retries fn exactly once.
// The process never aborts on corruption.
func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !isCorruption(err) {
		return err
	}

	s.log.Error("history: detected corruption (%v), quarantining and recreating store", err)
	if qerr := s.quarantineAndRecreate(); qerr != nil {
		s.log.Error("history: failed to recover from corruption: %v", qerr)
		return err
	}

	return fn(ctx)
}

func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "corrupt") ||
		strings.Contains(msg, "not a database")
}

func (s *Store) quarantineAndRecreate() error {
	s.db.Close()

	backupPath := fmt.Sprintf("%s-corrupted-%d.backup", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("quarantine corrupted store: %w", err)
	}
	s.log.Warn("history: quarantined corrupted store to %s", backupPath)

	return s.open()
}

// InsertMany transactionally inserts ProbeResult and InterfaceReading
// batches. Either may be empty. This is the batch writer's only entry
// point into the history store; nothing else writes rows directly.
func (s *Store) InsertMany(ctx context.Context, probes []models.ProbeResult, readings []models.InterfaceReading) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if len(probes) > 0 {
			stmt, err := tx.PrepareContext(ctx, `INSERT INTO history (device_id, status, latency_ms, packet_loss, timestamp) VALUES (?, ?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("prepare history insert: %w", err)
			}
			defer stmt.Close()
			for _, p := range probes {
				if _, err := stmt.ExecContext(ctx, p.DeviceID, string(p.Status), p.LatencyMs, p.PacketLoss, p.Timestamp); err != nil {
					return fmt.Errorf("insert history row: %w", err)
				}
			}
		}

		if len(readings) > 0 {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO interface_readings (device_id, if_index, if_name, oper_status, speed_mbps, in_octets, out_octets, in_errors, out_errors, in_discards, out_discards, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(device_id, if_index) DO UPDATE SET
					if_name=excluded.if_name, oper_status=excluded.oper_status, speed_mbps=excluded.speed_mbps,
					in_octets=excluded.in_octets, out_octets=excluded.out_octets, in_errors=excluded.in_errors,
					out_errors=excluded.out_errors, in_discards=excluded.in_discards, out_discards=excluded.out_discards,
					timestamp=excluded.timestamp`)
			if err != nil {
				return fmt.Errorf("prepare interface upsert: %w", err)
			}
			defer stmt.Close()
			for _, r := range readings {
				if _, err := stmt.ExecContext(ctx, r.DeviceID, r.IfIndex, r.IfName, r.OperStatus, r.SpeedMbps,
					r.InOctets, r.OutOctets, r.InErrors, r.OutErrors, r.InDiscards, r.OutDiscards, r.Timestamp); err != nil {
					return fmt.Errorf("upsert interface reading: %w", err)
				}
			}
		}

		return tx.Commit()
	})
}

// LatestPerDevice returns one DeviceStatus per device whose most-recent
// history row falls within [now-windowMs, now].
func (s *Store) LatestPerDevice(ctx context.Context, windowMs int64) (map[string]models.DeviceStatus, error) {
	result := make(map[string]models.DeviceStatus)
	err := s.withRetry(ctx, func(ctx context.Context) error {
		cutoff := time.Now().UnixMilli() - windowMs
		rows, err := s.db.QueryContext(ctx, `
			SELECT h.device_id, h.status, h.latency_ms, h.packet_loss, h.timestamp
			FROM history h
			INNER JOIN (
				SELECT device_id, MAX(timestamp) AS max_ts
				FROM history
				WHERE timestamp >= ?
				GROUP BY device_id
			) latest ON h.device_id = latest.device_id AND h.timestamp = latest.max_ts`, cutoff)
		if err != nil {
			return fmt.Errorf("query latest per device: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				deviceID  string
				status    string
				latencyMs sql.NullFloat64
				loss      sql.NullFloat64
				ts        int64
			)
			if err := rows.Scan(&deviceID, &status, &latencyMs, &loss, &ts); err != nil {
				return fmt.Errorf("scan latest row: %w", err)
			}
			ds := models.DeviceStatus{
				DeviceID:    deviceID,
				Status:      models.Status(status),
				LastChecked: time.UnixMilli(ts).UTC().Format(time.RFC3339),
			}
			if latencyMs.Valid {
				v := latencyMs.Float64
				ds.LatencyMs = &v
			}
			if loss.Valid {
				v := loss.Float64
				ds.PacketLoss = &v
			}
			result[deviceID] = ds
		}
		return rows.Err()
	})
	return result, err
}

// LatestDownTimestamp returns the timestamp of the most recent "down"
// history row for a device, used to compute offlineDuration.
func (s *Store) LatestDownTimestamp(ctx context.Context, deviceID string) (int64, bool, error) {
	var ts int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT timestamp FROM history
			WHERE device_id = ? AND status = ?
			ORDER BY timestamp DESC LIMIT 1`, deviceID, string(models.StatusDown))
		return row.Scan(&ts)
	})
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// DeviceHistory returns raw rows for period in {1h, 24h} and aggregate
// rows for period in {7d, 30d}; it degrades to raw when aggregates are
// empty.
func (s *Store) DeviceHistory(ctx context.Context, deviceID, period string) (raw []models.HistoryRow, aggs []models.Aggregate, err error) {
	now := time.Now().UnixMilli()

	switch period {
	case "1h", "24h":
		var since int64
		if period == "1h" {
			since = now - time.Hour.Milliseconds()
		} else {
			since = now - 24*time.Hour.Milliseconds()
		}
		raw, err = s.rawSince(ctx, deviceID, since)
		return raw, nil, err

	case "7d", "30d":
		periodType := models.PeriodHourly
		var since int64
		if period == "7d" {
			since = now - 7*24*time.Hour.Milliseconds()
		} else {
			periodType = models.PeriodDaily
			since = now - 30*24*time.Hour.Milliseconds()
		}
		aggs, err = s.aggregatesSince(ctx, deviceID, periodType, since)
		if err != nil {
			return nil, nil, err
		}
		if len(aggs) == 0 {
			raw, err = s.rawSince(ctx, deviceID, since)
			return raw, nil, err
		}
		return nil, aggs, nil

	default:
		return nil, nil, fmt.Errorf("unknown period %q", period)
	}
}

func (s *Store) rawSince(ctx context.Context, deviceID string, since int64) ([]models.HistoryRow, error) {
	var out []models.HistoryRow
	err := s.withRetry(ctx, func(ctx context.Context) error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT device_id, status, latency_ms, packet_loss, timestamp
			FROM history WHERE device_id = ? AND timestamp >= ? ORDER BY timestamp ASC`, deviceID, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row models.HistoryRow
			var latencyMs, loss sql.NullFloat64
			var status string
			if err := rows.Scan(&row.DeviceID, &status, &latencyMs, &loss, &row.Timestamp); err != nil {
				return err
			}
			row.Status = models.Status(status)
			if latencyMs.Valid {
				v := latencyMs.Float64
				row.LatencyMs = &v
			}
			if loss.Valid {
				v := loss.Float64
				row.PacketLoss = &v
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) aggregatesSince(ctx context.Context, deviceID string, periodType models.PeriodType, since int64) ([]models.Aggregate, error) {
	var out []models.Aggregate
	err := s.withRetry(ctx, func(ctx context.Context) error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT device_id, period_type, period_start, avg_latency, min_latency, max_latency, avg_packet_loss, uptime_percent, ping_count, down_count, degraded_count
			FROM aggregates WHERE device_id = ? AND period_type = ? AND period_start >= ? ORDER BY period_start ASC`,
			deviceID, string(periodType), since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a models.Aggregate
			var pt string
			if err := rows.Scan(&a.DeviceID, &pt, &a.PeriodStart, &a.AvgLatency, &a.MinLatency, &a.MaxLatency,
				&a.AvgPacketLoss, &a.UptimePercent, &a.PingCount, &a.DownCount, &a.DegradedCount); err != nil {
				return err
			}
			a.PeriodType = models.PeriodType(pt)
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// bucketSizeFor returns the bucket width for a period type: hourly
// buckets are 1h wide, daily buckets are 24h wide.
func bucketSizeFor(pt models.PeriodType) time.Duration {
	if pt == models.PeriodDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// UpsertAggregates computes closed buckets whose [periodStart, periodStart+bucketSize)
// has fully elapsed at least one hour ago, for both hourly and daily
// periods, and upserts them. It never touches the live (still-open)
// bucket. Running it twice over the same window is idempotent (INSERT OR
// REPLACE on the natural key).
func (s *Store) UpsertAggregates(ctx context.Context) error {
	for _, pt := range []models.PeriodType{models.PeriodHourly, models.PeriodDaily} {
		if err := s.upsertAggregatesForPeriod(ctx, pt); err != nil {
			return fmt.Errorf("upsert %s aggregates: %w", pt, err)
		}
	}
	return nil
}

func (s *Store) upsertAggregatesForPeriod(ctx context.Context, pt models.PeriodType) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		bucket := bucketSizeFor(pt).Milliseconds()
		cutoff := time.Now().UnixMilli() - time.Hour.Milliseconds()

		deviceRows, err := s.db.QueryContext(ctx, `SELECT DISTINCT device_id FROM history`)
		if err != nil {
			return err
		}
		var deviceIDs []string
		for deviceRows.Next() {
			var id string
			if err := deviceRows.Scan(&id); err != nil {
				deviceRows.Close()
				return err
			}
			deviceIDs = append(deviceIDs, id)
		}
		deviceRows.Close()
		if err := deviceRows.Err(); err != nil {
			return err
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO aggregates (device_id, period_type, period_start, avg_latency, min_latency, max_latency, avg_packet_loss, uptime_percent, ping_count, down_count, degraded_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(device_id, period_type, period_start) DO UPDATE SET
				avg_latency=excluded.avg_latency, min_latency=excluded.min_latency, max_latency=excluded.max_latency,
				avg_packet_loss=excluded.avg_packet_loss, uptime_percent=excluded.uptime_percent,
				ping_count=excluded.ping_count, down_count=excluded.down_count, degraded_count=excluded.degraded_count`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, deviceID := range deviceIDs {
			var minStart sql.NullInt64
			if err := tx.QueryRowContext(ctx, `SELECT MIN(timestamp) FROM history WHERE device_id = ?`, deviceID).Scan(&minStart); err != nil {
				return err
			}
			if !minStart.Valid {
				continue
			}

			for periodStart := minStart.Int64 - (minStart.Int64 % bucket); periodStart+bucket <= cutoff; periodStart += bucket {
				rows, err := tx.QueryContext(ctx, `
					SELECT status, latency_ms, packet_loss FROM history
					WHERE device_id = ? AND timestamp >= ? AND timestamp < ?`, deviceID, periodStart, periodStart+bucket)
				if err != nil {
					return err
				}

				var (
					count, downCount, degradedCount, upCount int
					sumLatency, minLatency, maxLatency       float64
					sumLoss                                  float64
					latencySamples                           int
				)
				minLatency = -1
				for rows.Next() {
					var status string
					var latencyMs, loss sql.NullFloat64
					if err := rows.Scan(&status, &latencyMs, &loss); err != nil {
						rows.Close()
						return err
					}
					count++
					switch models.Status(status) {
					case models.StatusUp:
						upCount++
					case models.StatusDegraded:
						degradedCount++
					case models.StatusDown:
						downCount++
					}
					if latencyMs.Valid {
						sumLatency += latencyMs.Float64
						latencySamples++
						if minLatency < 0 || latencyMs.Float64 < minLatency {
							minLatency = latencyMs.Float64
						}
						if latencyMs.Float64 > maxLatency {
							maxLatency = latencyMs.Float64
						}
					}
					if loss.Valid {
						sumLoss += loss.Float64
					}
				}
				rows.Close()
				if err := rows.Err(); err != nil {
					return err
				}
				if count == 0 {
					continue
				}
				if minLatency < 0 {
					minLatency = 0
				}

				avgLatency := 0.0
				if latencySamples > 0 {
					avgLatency = sumLatency / float64(latencySamples)
				}

				_, err = stmt.ExecContext(ctx, deviceID, string(pt), periodStart,
					avgLatency, minLatency, maxLatency, sumLoss/float64(count),
					100*float64(upCount)/float64(count), count, downCount, degradedCount)
				if err != nil {
					return err
				}
			}
		}

		return tx.Commit()
	})
}

// Expire deletes raw rows older than 30 days and aggregates older than 90
// days.
func (s *Store) Expire(ctx context.Context) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		now := time.Now().UnixMilli()
		rawCutoff := now - 30*24*time.Hour.Milliseconds()
		aggCutoff := now - 90*24*time.Hour.Milliseconds()

		if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE timestamp < ?`, rawCutoff); err != nil {
			return fmt.Errorf("expire history: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM aggregates WHERE period_start < ?`, aggCutoff); err != nil {
			return fmt.Errorf("expire aggregates: %w", err)
		}
		return nil
	})
}

// Reset truncates history and aggregates transactionally, after writing a
// pre-reset backup copy of the database file. It fails with
// ErrResetUnsafe if the post-delete row count cannot be verified zero.
func (s *Store) Reset(ctx context.Context) error {
	backupPath := fmt.Sprintf("%s-prereset-%d.backup", s.path, time.Now().UnixNano())
	if err := copyFile(s.path, backupPath); err != nil {
		s.log.Warn("history: could not write pre-reset backup (%v), proceeding anyway", err)
	}

	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM aggregates`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM flapping_events`); err != nil {
			return err
		}

		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM history) + (SELECT COUNT(*) FROM aggregates) + (SELECT COUNT(*) FROM flapping_events)`).Scan(&remaining); err != nil {
			return err
		}
		if remaining > 0 {
			return ErrResetUnsafe
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		_, err = s.db.ExecContext(ctx, `VACUUM`)
		return err
	})
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// InsertFlappingEvent persists a FlappingEvent emitted by the flapping
// detector.
func (s *Store) InsertFlappingEvent(ctx context.Context, evt models.FlappingEvent) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO flapping_events (device_id, if_index, if_name, event_type, from_value, to_value, severity, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.DeviceID, evt.IfIndex, evt.IfName, string(evt.EventType), evt.From, evt.To, string(evt.Severity), evt.Timestamp)
		return err
	})
}

// FlappingReport groups flapping events within the last N hours by
// (deviceId, ifIndex).
func (s *Store) FlappingReport(ctx context.Context, hours int) ([]models.FlappingEvent, error) {
	var out []models.FlappingEvent
	err := s.withRetry(ctx, func(ctx context.Context) error {
		out = nil
		since := time.Now().Add(-time.Duration(hours) * time.Hour).UnixMilli()
		rows, err := s.db.QueryContext(ctx, `
			SELECT device_id, if_index, if_name, event_type, from_value, to_value, severity, timestamp
			FROM flapping_events WHERE timestamp >= ? ORDER BY device_id, if_index, timestamp`, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e models.FlappingEvent
			var eventType, severity string
			if err := rows.Scan(&e.DeviceID, &e.IfIndex, &e.IfName, &eventType, &e.From, &e.To, &severity, &e.Timestamp); err != nil {
				return err
			}
			e.EventType = models.FlappingEventType(eventType)
			e.Severity = models.FlappingSeverity(severity)
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// InterfaceReadings returns the current stored reading for every
// interface known for a device.
func (s *Store) InterfaceReadings(ctx context.Context, deviceID string) ([]models.InterfaceReading, error) {
	var out []models.InterfaceReading
	err := s.withRetry(ctx, func(ctx context.Context) error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT device_id, if_index, if_name, oper_status, speed_mbps, in_octets, out_octets, in_errors, out_errors, in_discards, out_discards, timestamp
			FROM interface_readings WHERE device_id = ? ORDER BY if_index`, deviceID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r models.InterfaceReading
			if err := rows.Scan(&r.DeviceID, &r.IfIndex, &r.IfName, &r.OperStatus, &r.SpeedMbps,
				&r.InOctets, &r.OutOctets, &r.InErrors, &r.OutErrors, &r.InDiscards, &r.OutDiscards, &r.Timestamp); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// FilePath exposes the backing file path, used by the export/import
// handlers to copy the database wholesale.
func (s *Store) FilePath() string { return s.path }
