package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:     "sqlite",
	textTime: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS zone_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT,
			camera_id TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			zone_name TEXT,
			person_count INTEGER NOT NULL,
			area REAL NOT NULL,
			density REAL NOT NULL,
			level TEXT NOT NULL,
			color TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_snapshots_camera_ts ON zone_snapshots(camera_id, ts)`,
		`CREATE TABLE IF NOT EXISTS heatmap_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			window_start TEXT,
			window_end TEXT,
			total_points INTEGER NOT NULL,
			avg_intensity REAL NOT NULL,
			hottest_zone TEXT,
			coldest_zone TEXT,
			hotspots_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_heatmap_summaries_camera ON heatmap_summaries(camera_id, window_end)`,
		`CREATE TABLE IF NOT EXISTS location_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at TEXT NOT NULL,
			location_id TEXT NOT NULL,
			current_occupancy INTEGER NOT NULL,
			peak_occupancy INTEGER NOT NULL,
			level TEXT,
			sample_count INTEGER NOT NULL,
			total_cameras INTEGER NOT NULL,
			devices_reporting INTEGER NOT NULL,
			last_updated TEXT,
			is_stale BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_location_states_location ON location_states(location_id, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			camera_id TEXT,
			location_id TEXT,
			zone_id TEXT,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			level TEXT NOT NULL,
			value REAL NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	},
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:crowdpulse.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: sqliteDialect}, nil
}
