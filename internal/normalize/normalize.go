package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"crowdpulse/internal/config"
	"crowdpulse/internal/model"
)

var ErrNoContent = errors.New("report carries neither detections nor heatmap points")

// Reports converts one wire report into engine reports. A payload with both
// detections and heatmap points yields one of each. Missing timestamps fall
// back to now.
func Reports(raw RawReport, cfg config.ParserConfig, source string, now time.Time) ([]model.DeviceReport, error) {
	camera := firstNonEmpty(raw.CameraID, raw.CameraIDCamel, raw.DeviceID, raw.DeviceIDCamel, cfg.DefaultCameraID)
	loc := location(cfg.Timezone)

	capturedAt, err := stampOr(loc, now, raw.CapturedAt, raw.Timestamp, raw.EndTime)
	if err != nil {
		return nil, err
	}

	objects := raw.Objects
	if objects == nil {
		objects = raw.Detections
	}
	points := raw.Points
	if points == nil {
		points = raw.HeatmapPoints
	}

	kind := model.ReportKind(strings.ToLower(strings.TrimSpace(raw.Kind)))
	wantDetection := kind == model.ReportDetection || (kind == "" && (objects != nil || points == nil))
	wantHeatmap := kind == model.ReportHeatmap || (kind == "" && points != nil)
	if kind != "" && kind != model.ReportDetection && kind != model.ReportHeatmap {
		return nil, fmt.Errorf("unknown report kind %q", raw.Kind)
	}
	if kind == "" && objects == nil && points == nil {
		return nil, ErrNoContent
	}

	var out []model.DeviceReport
	if wantDetection {
		ev := &model.DetectionEvent{
			CameraID:   camera,
			CapturedAt: capturedAt,
			Objects:    make([]model.DetectedObject, 0, len(objects)),
		}
		for _, o := range objects {
			if obj, ok := Object(o); ok {
				ev.Objects = append(ev.Objects, obj)
			}
		}
		out = append(out, model.DeviceReport{Kind: model.ReportDetection, Detection: ev, Source: source})
	}
	if wantHeatmap {
		end, err := stampOr(loc, capturedAt, raw.EndTime)
		if err != nil {
			return nil, err
		}
		start, err := stampOr(loc, end, raw.StartTime)
		if err != nil {
			return nil, err
		}
		if start.After(end) {
			start, end = end, start
		}
		batch := &model.HeatmapBatch{
			CameraID:  camera,
			StartTime: start,
			EndTime:   end,
			Points:    make([]model.HeatmapPoint, 0, len(points)),
		}
		for _, p := range points {
			if hp, ok := Point(p); ok {
				batch.Points = append(batch.Points, hp)
			}
		}
		out = append(out, model.DeviceReport{Kind: model.ReportHeatmap, Heatmap: batch, Source: source})
	}
	return out, nil
}

// Object maps a wire detection, dropping boxes with non-finite coordinates.
func Object(o RawObject) (model.DetectedObject, bool) {
	box := o.BBox
	if box == nil {
		box = o.BoundingBox
	}
	if box == nil {
		return model.DetectedObject{}, false
	}
	if !finite(box.X, box.Y, box.W, box.H) {
		return model.DetectedObject{}, false
	}
	conf := 1.0
	if v := firstPresent(o.Confidence, o.Score); v != nil {
		conf = *v
	}
	if !finite(conf) {
		return model.DetectedObject{}, false
	}
	return model.DetectedObject{
		Class:      strings.ToLower(strings.TrimSpace(firstNonEmpty(o.Class, o.DetectedObject, o.Label))),
		BBox:       model.BBox{X: box.X, Y: box.Y, W: box.W, H: box.H},
		Confidence: math.Max(0, math.Min(1, conf)),
	}, true
}

// Point maps a wire heatmap point. Intensity defaults to 1.
func Point(p RawPoint) (model.HeatmapPoint, bool) {
	intensity := 1.0
	if v := firstPresent(p.Intensity, p.Value); v != nil {
		intensity = *v
	}
	if !finite(p.X, p.Y, intensity) {
		return model.HeatmapPoint{}, false
	}
	return model.HeatmapPoint{X: p.X, Y: p.Y, Intensity: intensity}, true
}

func stampOr(loc *time.Location, fallback time.Time, stamps ...Stamp) (time.Time, error) {
	for _, s := range stamps {
		if s.IsZero() {
			continue
		}
		ts, err := ParseTimestamp(s.Text, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
		}
		return ts.UTC(), nil
	}
	return fallback.UTC(), nil
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	if l, err := time.LoadLocation(tz); err == nil {
		return l
	}
	return time.UTC
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts the layouts above plus unix seconds or
// milliseconds, with or without a fractional part. Zone-less layouts are
// read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ts, ok := parseUnix(value); ok {
		return ts, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func parseUnix(value string) (time.Time, bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || !finite(f) || f < 0 {
		return time.Time{}, false
	}
	intPart := value
	if i := strings.IndexAny(value, ".eE"); i >= 0 {
		intPart = value[:i]
	}
	if len(intPart) >= 13 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func firstPresent(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
