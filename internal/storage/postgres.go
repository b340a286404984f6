package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS zone_snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ,
			camera_id TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			zone_name TEXT,
			person_count INTEGER NOT NULL,
			area DOUBLE PRECISION NOT NULL,
			density DOUBLE PRECISION NOT NULL,
			level TEXT NOT NULL,
			color TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_snapshots_camera_ts ON zone_snapshots(camera_id, ts)`,
		`CREATE TABLE IF NOT EXISTS heatmap_summaries (
			id BIGSERIAL PRIMARY KEY,
			camera_id TEXT NOT NULL,
			window_start TIMESTAMPTZ,
			window_end TIMESTAMPTZ,
			total_points INTEGER NOT NULL,
			avg_intensity DOUBLE PRECISION NOT NULL,
			hottest_zone TEXT,
			coldest_zone TEXT,
			hotspots_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_heatmap_summaries_camera ON heatmap_summaries(camera_id, window_end)`,
		`CREATE TABLE IF NOT EXISTS location_states (
			id BIGSERIAL PRIMARY KEY,
			recorded_at TIMESTAMPTZ NOT NULL,
			location_id TEXT NOT NULL,
			current_occupancy INTEGER NOT NULL,
			peak_occupancy INTEGER NOT NULL,
			level TEXT,
			sample_count INTEGER NOT NULL,
			total_cameras INTEGER NOT NULL,
			devices_reporting INTEGER NOT NULL,
			last_updated TIMESTAMPTZ,
			is_stale BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_location_states_location ON location_states(location_id, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			camera_id TEXT,
			location_id TEXT,
			zone_id TEXT,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			level TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			context_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	},
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/crowdpulse?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: postgresDialect}, nil
}
