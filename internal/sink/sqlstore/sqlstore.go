// Package sqlstore is the durable persistence sink: it implements
// sink.Sink on top of internal/store's SQLite engine, the same
// engine/migration pattern the teacher uses for its own plugin stores
// (internal/store/store.go), adapted here to a single fixed schema
// rather than per-plugin migration sets.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalmesh/fleetwatch/internal/store"
	"github.com/signalmesh/fleetwatch/pkg/models"
)

const component = "sqlstore"

// Store is the SQLite-backed implementation of sink.Sink.
type Store struct {
	db *store.SQLiteStore
}

// Open opens (or creates) the database at path and applies the
// fleetwatch schema migrations.
func Open(path string) (*Store, error) {
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlstore: %w", err)
	}
	s := &Store{db: db}
	if err := db.Migrate(context.Background(), component, migrations()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlstore: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create measurements, anomalies, health_snapshots, regions tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE measurements (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id TEXT NOT NULL,
						timestamp DATETIME NOT NULL,
						rssi REAL NOT NULL,
						payload TEXT NOT NULL
					)`,
					`CREATE INDEX idx_measurements_device_ts ON measurements(device_id, timestamp)`,
					`CREATE TABLE anomalies (
						id TEXT PRIMARY KEY,
						device_id TEXT NOT NULL,
						timestamp DATETIME NOT NULL,
						score REAL NOT NULL,
						kind TEXT NOT NULL,
						severity TEXT NOT NULL
					)`,
					`CREATE INDEX idx_anomalies_device_ts ON anomalies(device_id, timestamp)`,
					`CREATE TABLE health_snapshots (
						device_id TEXT NOT NULL,
						updated_at DATETIME NOT NULL,
						score REAL NOT NULL,
						risk TEXT NOT NULL,
						payload TEXT NOT NULL,
						PRIMARY KEY (device_id, updated_at)
					)`,
					`CREATE TABLE regions (
						id TEXT PRIMARY KEY,
						created_at DATETIME NOT NULL,
						severity TEXT NOT NULL,
						payload TEXT NOT NULL
					)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return fmt.Errorf("exec %q: %w", stmt, err)
					}
				}
				return nil
			},
		},
	}
}

// PersistMeasurement implements sink.Sink.
func (s *Store) PersistMeasurement(ctx context.Context, m models.Measurement) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal measurement: %w", err)
	}
	_, err = s.db.DB().ExecContext(ctx,
		`INSERT INTO measurements (device_id, timestamp, rssi, payload) VALUES (?, ?, ?, ?)`,
		m.DeviceID, m.Timestamp, m.RSSI, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// PersistAnomaly implements sink.Sink.
func (s *Store) PersistAnomaly(ctx context.Context, ev models.AnomalyEvent) error {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.DB().ExecContext(ctx,
		`INSERT OR REPLACE INTO anomalies (id, device_id, timestamp, score, kind, severity) VALUES (?, ?, ?, ?, ?, ?)`,
		id, ev.DeviceID, ev.Timestamp, ev.Score, string(ev.Kind), string(ev.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// PersistHealth implements sink.Sink.
func (s *Store) PersistHealth(ctx context.Context, hs models.HealthSnapshot) error {
	payload, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("marshal health snapshot: %w", err)
	}
	_, err = s.db.DB().ExecContext(ctx,
		`INSERT OR REPLACE INTO health_snapshots (device_id, updated_at, score, risk, payload) VALUES (?, ?, ?, ?, ?)`,
		hs.DeviceID, hs.UpdatedAt, hs.Score, string(hs.Risk), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert health snapshot: %w", err)
	}
	return nil
}

// PersistRegion implements sink.Sink.
func (s *Store) PersistRegion(ctx context.Context, r models.AnomalyRegion) error {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal region: %w", err)
	}
	_, err = s.db.DB().ExecContext(ctx,
		`INSERT OR REPLACE INTO regions (id, created_at, severity, payload) VALUES (?, ?, ?, ?)`,
		id, r.CreatedAt, string(r.Severity), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert region: %w", err)
	}
	return nil
}

// RecentMeasurements queries the historical sink for a device's
// measurements stamped at or after since, oldest first -- the "historical query
// backend" role spec §1 assigns to persistence, used by callers that
// need data older than a live device's ring buffer retains.
func (s *Store) RecentMeasurements(ctx context.Context, deviceID string, since time.Time) ([]models.Measurement, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT payload FROM measurements WHERE device_id = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		deviceID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []models.Measurement
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		var m models.Measurement
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("unmarshal measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
