package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"crowdpulse/internal/config"
	"crowdpulse/internal/model"
)

// Store persists derived outputs. Nothing reads them back on the hot path;
// LoadAlerts only warms the in-memory ring at startup.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveFrame(ctx context.Context, fr model.FrameResult) error
	SaveHeatmapSummary(ctx context.Context, s model.HeatmapSummary) error
	SaveLocationState(ctx context.Context, st model.LocationCrowdState) error
	SaveAlert(ctx context.Context, alert model.Alert) error
	LoadAlerts(ctx context.Context, limit int) ([]model.Alert, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect captures what differs between the two SQL backends.
type dialect struct {
	name     string
	schema   []string
	numbered bool
	textTime bool
}

// textTimeLayout is fixed width so text timestamps sort chronologically.
const textTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqlStore implements Store for any database/sql driver. Queries are written
// with ? placeholders and rebound for drivers that number them.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) bind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) timeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	if s.d.textTime {
		return t.UTC().Format(textTimeLayout)
	}
	return t.UTC()
}

func (s *sqlStore) SaveFrame(ctx context.Context, fr model.FrameResult) error {
	if s.db == nil || fr.CameraID == "" || len(fr.Snapshots) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.bind(
		`INSERT INTO zone_snapshots (ts, camera_id, zone_id, zone_name, person_count, area, density, level, color)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, z := range fr.Snapshots {
		if _, err := stmt.ExecContext(ctx,
			s.timeArg(z.Timestamp),
			z.CameraID,
			z.ZoneID,
			z.ZoneName,
			z.PersonCount,
			z.Area,
			z.Density,
			string(z.Level),
			z.Color,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) SaveHeatmapSummary(ctx context.Context, hs model.HeatmapSummary) error {
	if s.db == nil || hs.TotalPoints == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO heatmap_summaries (camera_id, window_start, window_end, total_points, avg_intensity, hottest_zone, coldest_zone, hotspots_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		hs.CameraID,
		s.timeArg(hs.WindowStart),
		s.timeArg(hs.WindowEnd),
		hs.TotalPoints,
		hs.AvgIntensity,
		hs.HottestZone,
		hs.ColdestZone,
		encodeJSON(hs.Hotspots),
	)
	return err
}

func (s *sqlStore) SaveLocationState(ctx context.Context, st model.LocationCrowdState) error {
	if s.db == nil || st.LocationID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO location_states (recorded_at, location_id, current_occupancy, peak_occupancy, level, sample_count, total_cameras, devices_reporting, last_updated, is_stale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.timeArg(nowUTC()),
		st.LocationID,
		st.CurrentOccupancy,
		st.PeakOccupancy,
		string(st.Level),
		st.SampleCount,
		st.TotalCameras,
		st.DevicesReporting,
		s.timeArg(st.LastUpdated),
		st.IsStale,
	)
	return err
}

func (s *sqlStore) SaveAlert(ctx context.Context, a model.Alert) error {
	if s.db == nil {
		return nil
	}
	if a.ID == "" {
		return errors.New("alert without id")
	}
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO alerts (id, ts, camera_id, location_id, zone_id, severity, alert_type, level, value, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID,
		s.timeArg(a.Timestamp),
		a.CameraID,
		a.LocationID,
		a.ZoneID,
		a.Severity,
		a.AlertType,
		a.Level,
		a.Value,
		encodeJSON(a.Context),
	)
	return err
}

// LoadAlerts returns up to limit of the newest alerts, oldest first.
func (s *sqlStore) LoadAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, ts, camera_id, location_id, zone_id, severity, alert_type, level, value, context_json
		FROM alerts ORDER BY ts DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var (
			a       model.Alert
			ts      scanTime
			ctxJSON sql.NullString
		)
		if err := rows.Scan(&a.ID, &ts, &a.CameraID, &a.LocationID, &a.ZoneID, &a.Severity, &a.AlertType, &a.Level, &a.Value, &ctxJSON); err != nil {
			return nil, err
		}
		a.Timestamp = ts.t
		if ctxJSON.Valid && ctxJSON.String != "" && ctxJSON.String != "null" {
			if err := json.Unmarshal([]byte(ctxJSON.String), &a.Context); err != nil {
				return nil, fmt.Errorf("alert %s context: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// scanTime accepts both native timestamps and the RFC 3339 text written to
// sqlite.
type scanTime struct {
	t time.Time
}

func (s *scanTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		s.t = time.Time{}
	case time.Time:
		s.t = x.UTC()
	case string:
		return s.parse(x)
	case []byte:
		return s.parse(string(x))
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
	return nil
}

func (s *scanTime) parse(v string) error {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return err
	}
	s.t = t.UTC()
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
