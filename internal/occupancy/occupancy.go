// Package occupancy turns one camera frame's person detections into
// per-zone counts, densities and color-coded levels.
package occupancy

import (
	"math"
	"strings"

	"github.com/golang/geo/r2"

	"crowdpulse/internal/geometry"
	"crowdpulse/internal/model"
)

const DefaultReferenceUnit = 10000.0

// Colors consumed by the dashboard heatmap. Values must not change.
const (
	ColorEmpty       = "#3B82F6"
	ColorLow         = "#10B981"
	ColorMedium      = "#F59E0B"
	ColorHigh        = "#EF4444"
	ColorOvercrowded = "#991B1B"
)

// Bands holds the exclusive upper density bound of each level below
// overcrowded, in people per reference unit.
type Bands struct {
	Empty  float64 `json:"empty" yaml:"empty"`
	Low    float64 `json:"low" yaml:"low"`
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

func DefaultBands() Bands {
	return Bands{Empty: 0.5, Low: 1.5, Medium: 3.0, High: 5.0}
}

func (b Bands) Classify(density float64) model.ZoneLevel {
	switch {
	case math.IsNaN(density) || density < b.Empty:
		return model.ZoneEmpty
	case density < b.Low:
		return model.ZoneLow
	case density < b.Medium:
		return model.ZoneMedium
	case density < b.High:
		return model.ZoneHigh
	default:
		return model.ZoneOvercrowded
	}
}

func (b Bands) Valid() bool {
	return b.Empty > 0 && b.Empty < b.Low && b.Low < b.Medium && b.Medium < b.High
}

func Color(level model.ZoneLevel) string {
	switch level {
	case model.ZoneLow:
		return ColorLow
	case model.ZoneMedium:
		return ColorMedium
	case model.ZoneHigh:
		return ColorHigh
	case model.ZoneOvercrowded:
		return ColorOvercrowded
	}
	return ColorEmpty
}

type Settings struct {
	ReferenceUnit float64
	Bands         Bands
	MinConfidence float64
}

func DefaultSettings() Settings {
	return Settings{ReferenceUnit: DefaultReferenceUnit, Bands: DefaultBands()}
}

type Calculator struct {
	settings Settings
}

func NewCalculator(s Settings) *Calculator {
	if s.ReferenceUnit <= 0 {
		s.ReferenceUnit = DefaultReferenceUnit
	}
	if !s.Bands.Valid() {
		s.Bands = DefaultBands()
	}
	return &Calculator{settings: s}
}

func (c *Calculator) Settings() Settings {
	return c.settings
}

// Anchors extracts the foot position of every person detection at or above
// minConfidence. Boxes with non-finite coordinates are dropped.
func Anchors(objects []model.DetectedObject, minConfidence float64) []r2.Point {
	out := make([]r2.Point, 0, len(objects))
	eachPerson(objects, minConfidence, func(p r2.Point, _ float64) {
		out = append(out, p)
	})
	return out
}

// HeatPoints is Anchors with the detection confidence kept as intensity.
func HeatPoints(objects []model.DetectedObject, minConfidence float64) []model.HeatmapPoint {
	out := make([]model.HeatmapPoint, 0, len(objects))
	eachPerson(objects, minConfidence, func(p r2.Point, conf float64) {
		out = append(out, model.HeatmapPoint{X: p.X, Y: p.Y, Intensity: conf})
	})
	return out
}

func eachPerson(objects []model.DetectedObject, minConfidence float64, fn func(anchor r2.Point, confidence float64)) {
	for _, obj := range objects {
		if !strings.EqualFold(strings.TrimSpace(obj.Class), model.ClassPerson) {
			continue
		}
		if obj.Confidence < minConfidence {
			continue
		}
		p := obj.BBox.Anchor()
		if !geometry.Finite(p) {
			continue
		}
		fn(p, obj.Confidence)
	}
}

// Density is people per reference unit of area; zero area yields zero.
func (c *Calculator) Density(count int, area float64) float64 {
	if area <= 0 || count <= 0 {
		return 0
	}
	return float64(count) / (area / c.settings.ReferenceUnit)
}

// Process emits one snapshot per zone. Zones overlap freely: a person is
// counted in every zone containing their anchor.
func (c *Calculator) Process(ev model.DetectionEvent, zones []model.Zone) model.FrameResult {
	anchors := Anchors(ev.Objects, c.settings.MinConfidence)
	res := model.FrameResult{
		CameraID:    ev.CameraID,
		CapturedAt:  ev.CapturedAt,
		TotalPeople: len(anchors),
		Snapshots:   make([]model.ZoneOccupancySnapshot, 0, len(zones)),
	}
	for _, z := range zones {
		res.Snapshots = append(res.Snapshots, c.zoneSnapshot(ev, z, anchors))
	}
	return res
}

func (c *Calculator) zoneSnapshot(ev model.DetectionEvent, z model.Zone, anchors []r2.Point) model.ZoneOccupancySnapshot {
	area := geometry.PolygonArea(z.Polygon)
	count := 0
	if area > 0 {
		bounds := geometry.Bounds(z.Polygon)
		for _, p := range anchors {
			if !bounds.ContainsPoint(p) {
				continue
			}
			if geometry.PointInPolygon(p, z.Polygon) {
				count++
			}
		}
	}
	density := c.Density(count, area)
	level := c.settings.Bands.Classify(density)
	return model.ZoneOccupancySnapshot{
		CameraID:    ev.CameraID,
		ZoneID:      z.ZoneID,
		ZoneName:    z.Name,
		Timestamp:   ev.CapturedAt,
		PersonCount: count,
		Area:        area,
		Density:     math.Round(density*100) / 100,
		Level:       level,
		Color:       Color(level),
	}
}
