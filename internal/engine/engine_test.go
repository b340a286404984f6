package engine

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r2"

	"crowdpulse/internal/alerts"
	"crowdpulse/internal/config"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
)

var testNow = time.Date(2026, 6, 12, 14, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.DedupeWindow = 0
	cfg.Engine.AlertCooldown = 0
	cfg.Heatmap.Window = time.Minute
	cfg.Directory = config.DirectoryConfig{
		Locations: []config.LocationConfig{
			{ID: "cafe", Devices: []string{"cam-a", "cam-b"}},
			{ID: "kiosk", Devices: []string{"cam-quiet"}},
		},
		Cameras: []config.CameraConfig{
			{ID: "cam-a", Zones: []config.ZoneConfig{{
				ID:      "floor",
				Name:    "Floor",
				Polygon: []r2.Point{{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 200, Y: 200}, {X: 0, Y: 200}},
			}}},
		},
	}
	return cfg
}

func newEngineForTest(cfg *config.Config) *Engine {
	e := NewEngine(cfg, nil, metrics.NewStore(100), alerts.NewStore(100), nil)
	e.now = func() time.Time { return testNow }
	return e
}

// people places n person boxes whose anchors fall inside the floor zone.
func people(n int) []model.DetectedObject {
	out := make([]model.DetectedObject, n)
	for i := range out {
		out[i] = model.DetectedObject{
			Class:      "person",
			Confidence: 0.9,
			BBox:       model.BBox{X: float64(10 + i*5), Y: 50, W: 10, H: 40},
		}
	}
	return out
}

func detection(cam string, at time.Time, objs []model.DetectedObject) model.DeviceReport {
	return model.DeviceReport{
		Kind:      model.ReportDetection,
		Detection: &model.DetectionEvent{CameraID: cam, CapturedAt: at, Objects: objs},
	}
}

func TestDetectionUpdatesZoneWindowAndHeatmap(t *testing.T) {
	eng := newEngineForTest(testConfig())
	eng.ProcessReport(detection("cam-a", testNow.Add(-time.Second), people(5)))

	fr, ok := eng.frames.Latest("cam-a")
	if !ok || len(fr.Snapshots) != 1 {
		t.Fatalf("expected one zone snapshot, got %+v", fr)
	}
	z := fr.Snapshots[0]
	if z.PersonCount != 5 || z.Density != 1.25 || z.Level != model.ZoneLow || z.Color != "#10B981" {
		t.Fatalf("unexpected snapshot: %+v", z)
	}

	w, ok := eng.Windows().Get("cam-a")
	if !ok || w.Len() != 1 {
		t.Fatalf("expected one sample in cam-a window")
	}
	agg, ok := eng.Heatmaps().Get("cam-a")
	if !ok || agg.Len() != 5 {
		t.Fatalf("expected five heatmap points")
	}
}

func TestDetectionHeatmapRanksByConfidence(t *testing.T) {
	eng := newEngineForTest(testConfig())
	eng.ProcessReport(detection("cam-a", testNow, []model.DetectedObject{
		{Class: "person", Confidence: 0.2, BBox: model.BBox{X: 10, Y: 10, W: 10, H: 40}},
		{Class: "person", Confidence: 0.95, BBox: model.BBox{X: 310, Y: 310, W: 10, H: 40}},
	}))

	agg, ok := eng.Heatmaps().Get("cam-a")
	if !ok {
		t.Fatalf("expected aggregator for cam-a")
	}
	sum := agg.Summary("cam-a", 10)
	if len(sum.Hotspots) != 2 {
		t.Fatalf("expected two hotspots, got %+v", sum.Hotspots)
	}
	if sum.Hotspots[0].BucketKey != "3-3" || sum.Hotspots[0].AvgIntensity != 0.95 {
		t.Fatalf("expected confident person to rank first, got %+v", sum.Hotspots)
	}
	if sum.HottestZone != "Zone (315, 350)" || sum.ColdestZone != "Zone (15, 50)" {
		t.Fatalf("unexpected extremes: hottest=%s coldest=%s", sum.HottestZone, sum.ColdestZone)
	}
}

func TestLocationAlertAndCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.AlertCooldown = time.Minute
	cfg.Alerts.ZoneLevel = ""
	eng := newEngineForTest(cfg)

	got := eng.ProcessReport(detection("cam-a", testNow, people(12)))
	if len(got) != 1 || got[0].AlertType != alerts.TypeLocationOvercrowded || got[0].LocationID != "cafe" {
		t.Fatalf("expected one location alert, got %+v", got)
	}
	if got[0].ID == "" || got[0].Severity != "high" {
		t.Fatalf("alert missing id or severity: %+v", got[0])
	}
	if again := eng.ProcessReport(detection("cam-a", testNow.Add(time.Second), people(13))); len(again) != 0 {
		t.Fatalf("expected cooldown to suppress second alert, got %d", len(again))
	}
	if n := len(eng.alerts.List(0)); n != 1 {
		t.Fatalf("expected one stored alert, got %d", n)
	}
}

func TestZoneOvercrowdedAlert(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.LocationLevel = ""
	eng := newEngineForTest(cfg)
	// 21 people on 40000 area units is 5.25 per reference unit.
	got := eng.ProcessReport(detection("cam-a", testNow, people(21)))
	if len(got) != 1 || got[0].AlertType != alerts.TypeZoneOvercrowded {
		t.Fatalf("expected zone alert, got %+v", got)
	}
	if got[0].ZoneID != "floor" || got[0].LocationID != "cafe" || got[0].Context["person_count"] != "21" {
		t.Fatalf("unexpected zone alert: %+v", got[0])
	}
}

func TestDuplicateReportIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.DedupeWindow = 5 * time.Second
	eng := newEngineForTest(cfg)
	rep := detection("cam-a", testNow, people(2))

	eng.ProcessReport(rep)
	rep.Source = "kafka"
	eng.ProcessReport(rep)

	w, _ := eng.Windows().Get("cam-a")
	if w.Len() != 1 {
		t.Fatalf("expected replay to be dropped, window has %d samples", w.Len())
	}
}

func TestClampTimestamp(t *testing.T) {
	now := testNow
	if got := clampTimestamp(time.Time{}, now, time.Minute, time.Second); !got.Equal(now) {
		t.Fatalf("zero timestamp should clamp to now")
	}
	if got := clampTimestamp(now.Add(-time.Hour), now, time.Minute, time.Second); !got.Equal(now) {
		t.Fatalf("old timestamp should clamp to now")
	}
	if got := clampTimestamp(now.Add(time.Hour), now, time.Minute, time.Second); !got.Equal(now) {
		t.Fatalf("future timestamp should clamp to now")
	}
	ok := now.Add(-30 * time.Second)
	if got := clampTimestamp(ok, now, time.Minute, time.Second); !got.Equal(ok) {
		t.Fatalf("timestamp within skew should be kept")
	}
}

func TestHeatmapBatchAndFlush(t *testing.T) {
	eng := newEngineForTest(testConfig())
	eng.ProcessReport(model.DeviceReport{
		Kind: model.ReportHeatmap,
		Heatmap: &model.HeatmapBatch{
			CameraID: "cam-h",
			EndTime:  testNow.Add(-2 * time.Minute),
			Points: []model.HeatmapPoint{
				{X: 10, Y: 10, Intensity: 0.2},
				{X: 150, Y: 20, Intensity: 0.9},
			},
		},
	})
	agg, ok := eng.Heatmaps().Get("cam-h")
	if !ok {
		t.Fatalf("expected aggregator for cam-h")
	}
	// The batch is older than the window, so it was rotated out on arrival.
	if agg.Len() != 0 {
		t.Fatalf("expected window to rotate, still holds %d points", agg.Len())
	}

	eng.ProcessReport(model.DeviceReport{
		Kind: model.ReportHeatmap,
		Heatmap: &model.HeatmapBatch{
			CameraID: "cam-h",
			EndTime:  testNow,
			Points:   []model.HeatmapPoint{{X: 10, Y: 10, Intensity: 1}},
		},
	})
	if got := eng.FlushHeatmaps(testNow.Add(30 * time.Second)); len(got) != 0 {
		t.Fatalf("window should still be open, flushed %d", len(got))
	}
	got := eng.FlushHeatmaps(testNow.Add(2 * time.Minute))
	if len(got) != 1 || got[0].CameraID != "cam-h" || got[0].TotalPoints != 1 {
		t.Fatalf("unexpected flush: %+v", got)
	}
}

func TestStaleLocationOnMap(t *testing.T) {
	eng := newEngineForTest(testConfig())
	eng.ProcessReport(detection("cam-a", testNow, people(3)))

	entries := eng.Publisher().Query([]string{"cafe", "kiosk", "nowhere"}, testNow)
	if entries[0].Status != model.StatusFresh || entries[0].Occupancy != 3 || entries[0].Level != model.LocationLow {
		t.Fatalf("unexpected cafe entry: %+v", entries[0])
	}
	if entries[1].Status != model.StatusStale || entries[1].Level != model.LocationModerate || !entries[1].IsStale {
		t.Fatalf("unexpected kiosk entry: %+v", entries[1])
	}
	if entries[2].Status != model.StatusUnmonitored || entries[2].Level != "" {
		t.Fatalf("unexpected unmonitored entry: %+v", entries[2])
	}
}

func TestUpdateConfigAppliesCameraOverride(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)

	next := testConfig()
	next.Occupancy.CameraOverrides = map[string]config.OccupancyProfile{
		"cam-a": {ReferenceUnit: 40000},
	}
	eng.UpdateConfig(next)
	eng.ProcessReport(detection("cam-a", testNow, people(5)))

	fr, _ := eng.frames.Latest("cam-a")
	if fr.Snapshots[0].Density != 5 || fr.Snapshots[0].Level != model.ZoneOvercrowded {
		t.Fatalf("override not applied: %+v", fr.Snapshots[0])
	}
}

func TestResetClearsState(t *testing.T) {
	eng := newEngineForTest(testConfig())
	eng.ProcessReport(detection("cam-a", testNow, people(2)))
	eng.Reset()
	if eng.Windows().Len() != 0 || eng.frames.Len() != 0 || len(eng.Heatmaps().Cameras()) != 0 {
		t.Fatalf("expected reset to clear runtime state")
	}
}

func TestReportWithoutCameraDropped(t *testing.T) {
	eng := newEngineForTest(testConfig())
	if got := eng.ProcessReport(detection("", testNow, people(30))); got != nil {
		t.Fatalf("expected no alerts")
	}
	if eng.Windows().Len() != 0 {
		t.Fatalf("expected nothing recorded")
	}
}

func TestStartConsumesChannel(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan model.DeviceReport, 1)
	eng.Start(ctx, in)
	in <- detection("cam-b", testNow, people(1))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := eng.Windows().Get("cam-b"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("report was not consumed")
}
