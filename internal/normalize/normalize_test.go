package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"crowdpulse/internal/config"
	"crowdpulse/internal/model"
)

var parserCfg = config.ParserConfig{Timezone: "UTC", DefaultCameraID: "unknown"}

func decode(t *testing.T, payload string) RawReport {
	t.Helper()
	var raw RawReport
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return raw
}

func TestDetectionArrayBox(t *testing.T) {
	raw := decode(t, `{"camera_id":"cam-a","timestamp":"2026-02-03T10:00:00Z",
		"objects":[{"class":"Person","bbox":[10,20,30,40],"confidence":0.9},
		           {"class":"chair","bbox":[0,0,1,1]}]}`)
	reps, err := Reports(raw, parserCfg, "rest", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reps) != 1 || reps[0].Kind != model.ReportDetection {
		t.Fatalf("expected one detection report, got %+v", reps)
	}
	ev := reps[0].Detection
	if ev.CameraID != "cam-a" || !ev.CapturedAt.Equal(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected event header: %+v", ev)
	}
	if len(ev.Objects) != 2 || ev.Objects[0].Class != "person" || ev.Objects[0].BBox.H != 40 {
		t.Fatalf("unexpected objects: %+v", ev.Objects)
	}
	if ev.Objects[1].Confidence != 1 {
		t.Fatalf("missing confidence should default to 1, got %v", ev.Objects[1].Confidence)
	}
	if reps[0].Source != "rest" {
		t.Fatalf("source not carried: %q", reps[0].Source)
	}
}

func TestDeviceShapeWithBoundingBoxObject(t *testing.T) {
	raw := decode(t, `{"deviceId":"ESP32-001","timestamp":1760000000000,
		"detections":[{"detectedObject":"person","confidence":0.95,
		"boundingBox":{"x":100,"y":150,"width":80,"height":200}}]}`)
	reps, err := Reports(raw, parserCfg, "kafka", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := reps[0].Detection
	if ev.CameraID != "ESP32-001" {
		t.Fatalf("expected deviceId fallback, got %q", ev.CameraID)
	}
	if !ev.CapturedAt.Equal(time.UnixMilli(1760000000000).UTC()) {
		t.Fatalf("unexpected unix ms timestamp: %v", ev.CapturedAt)
	}
	if got := ev.Objects[0].BBox.Anchor(); got.X != 140 || got.Y != 350 {
		t.Fatalf("unexpected anchor: %v", got)
	}
}

func TestHeatmapBatch(t *testing.T) {
	raw := decode(t, `{"cameraId":"cam-h","start_time":"2026-02-03T10:05:00Z","end_time":"2026-02-03T10:00:00Z",
		"heatmapPoints":[{"x":1,"y":2,"intensity":0.5},{"x":3,"y":4}]}`)
	reps, err := Reports(raw, parserCfg, "rest", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reps) != 1 || reps[0].Kind != model.ReportHeatmap {
		t.Fatalf("expected one heatmap report, got %+v", reps)
	}
	b := reps[0].Heatmap
	if !b.StartTime.Before(b.EndTime) {
		t.Fatalf("start/end should be ordered: %v %v", b.StartTime, b.EndTime)
	}
	if len(b.Points) != 2 || b.Points[1].Intensity != 1 {
		t.Fatalf("unexpected points: %+v", b.Points)
	}
}

func TestCombinedPayloadYieldsBoth(t *testing.T) {
	raw := decode(t, `{"camera_id":"cam","objects":[],"points":[{"x":1,"y":1,"value":2}]}`)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reps, err := Reports(raw, parserCfg, "", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("expected detection and heatmap, got %d", len(reps))
	}
	if !reps[0].Detection.CapturedAt.Equal(now) || !reps[1].Heatmap.EndTime.Equal(now) {
		t.Fatalf("missing timestamps should default to now")
	}
}

func TestRejects(t *testing.T) {
	if _, err := Reports(decode(t, `{"camera_id":"cam"}`), parserCfg, "", time.Now()); !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
	if _, err := Reports(decode(t, `{"kind":"video","objects":[]}`), parserCfg, "", time.Now()); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := Reports(decode(t, `{"objects":[],"timestamp":"yesterday"}`), parserCfg, "", time.Now()); err == nil {
		t.Fatalf("expected timestamp error")
	}
	var raw RawReport
	if err := json.Unmarshal([]byte(`{"objects":[{"bbox":[1,2,3]}]}`), &raw); err == nil {
		t.Fatalf("expected short bbox array to fail")
	}
}

func TestDefaultCamera(t *testing.T) {
	reps, err := Reports(decode(t, `{"objects":[]}`), parserCfg, "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reps[0].CameraID() != "unknown" {
		t.Fatalf("expected default camera id, got %q", reps[0].CameraID())
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"1760000000":           time.Unix(1760000000, 0).UTC(),
		"1760000000.5":         time.Unix(1760000000, 500000000).UTC(),
		"1760000000123":        time.UnixMilli(1760000000123).UTC(),
		"2026-02-03 10:00:00":  time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		"2026-02-03T10:00:00Z": time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseTimestamp("  ", time.UTC); err == nil {
		t.Fatalf("expected empty timestamp error")
	}
}
