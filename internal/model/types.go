package model

import (
	"time"

	"github.com/golang/geo/r2"
)

type ReportKind string

const (
	ReportDetection ReportKind = "detection"
	ReportHeatmap   ReportKind = "heatmap"
)

const ClassPerson = "person"

type BBox struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"width" yaml:"width"`
	H float64 `json:"height" yaml:"height"`
}

// Anchor is the bottom-center of the box, the inferred foot position.
func (b BBox) Anchor() r2.Point {
	return r2.Point{X: b.X + b.W/2, Y: b.Y + b.H}
}

type DetectedObject struct {
	Class      string  `json:"class"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

type DetectionEvent struct {
	CameraID   string           `json:"camera_id"`
	CapturedAt time.Time        `json:"captured_at"`
	Objects    []DetectedObject `json:"objects"`
}

type HeatmapPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Intensity float64 `json:"intensity"`
}

type HeatmapBatch struct {
	CameraID  string         `json:"camera_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Points    []HeatmapPoint `json:"points"`
}

// DeviceReport is one already-parsed unit of work handed from ingest to the engine.
type DeviceReport struct {
	Kind      ReportKind      `json:"kind"`
	Detection *DetectionEvent `json:"detection,omitempty"`
	Heatmap   *HeatmapBatch   `json:"heatmap,omitempty"`
	Source    string          `json:"source,omitempty"`
}

func (r DeviceReport) CameraID() string {
	switch {
	case r.Detection != nil:
		return r.Detection.CameraID
	case r.Heatmap != nil:
		return r.Heatmap.CameraID
	}
	return ""
}

func (r DeviceReport) Timestamp() time.Time {
	switch {
	case r.Detection != nil:
		return r.Detection.CapturedAt
	case r.Heatmap != nil:
		return r.Heatmap.EndTime
	}
	return time.Time{}
}

type Zone struct {
	CameraID string     `json:"camera_id" yaml:"camera_id"`
	ZoneID   string     `json:"zone_id" yaml:"zone_id"`
	Name     string     `json:"name" yaml:"name"`
	Polygon  []r2.Point `json:"polygon" yaml:"polygon"`
}

type ZoneLevel string

const (
	ZoneEmpty       ZoneLevel = "empty"
	ZoneLow         ZoneLevel = "low"
	ZoneMedium      ZoneLevel = "medium"
	ZoneHigh        ZoneLevel = "high"
	ZoneOvercrowded ZoneLevel = "overcrowded"
)

func (l ZoneLevel) Rank() int {
	switch l {
	case ZoneLow:
		return 1
	case ZoneMedium:
		return 2
	case ZoneHigh:
		return 3
	case ZoneOvercrowded:
		return 4
	}
	return 0
}

type ZoneOccupancySnapshot struct {
	CameraID    string    `json:"camera_id"`
	ZoneID      string    `json:"zone_id"`
	ZoneName    string    `json:"zone_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	PersonCount int       `json:"person_count"`
	Area        float64   `json:"area"`
	Density     float64   `json:"density"`
	Level       ZoneLevel `json:"level"`
	Color       string    `json:"color"`
}

type FrameResult struct {
	CameraID    string                  `json:"camera_id"`
	CapturedAt  time.Time               `json:"captured_at"`
	TotalPeople int                     `json:"total_people"`
	Snapshots   []ZoneOccupancySnapshot `json:"zones"`
}

type HeatmapBucket struct {
	BucketKey    string  `json:"bucket_key"`
	AvgIntensity float64 `json:"avg_intensity"`
	SampleCount  int     `json:"sample_count"`
}

type HeatmapSummary struct {
	CameraID     string          `json:"camera_id"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
	TotalPoints  int             `json:"total_points"`
	AvgIntensity float64         `json:"avg_intensity"`
	HottestZone  string          `json:"hottest_zone"`
	ColdestZone  string          `json:"coldest_zone"`
	Hotspots     []HeatmapBucket `json:"hotspots"`
}

type DeviceSample struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	PersonCount int       `json:"person_count"`
}

type LocationLevel string

const (
	LocationEmpty       LocationLevel = "empty"
	LocationLow         LocationLevel = "low"
	LocationMedium      LocationLevel = "medium"
	LocationHigh        LocationLevel = "high"
	LocationOvercrowded LocationLevel = "overcrowded"
	// LocationModerate is only ever assigned as the stale fallback.
	LocationModerate LocationLevel = "moderate"
)

// Rank orders levels for threshold checks; moderate sits with medium.
func (l LocationLevel) Rank() int {
	switch l {
	case LocationLow:
		return 1
	case LocationMedium, LocationModerate:
		return 2
	case LocationHigh:
		return 3
	case LocationOvercrowded:
		return 4
	}
	return 0
}

type LocationCrowdState struct {
	LocationID       string        `json:"location_id"`
	Monitored        bool          `json:"monitored"`
	CurrentOccupancy int           `json:"current_occupancy"`
	PeakOccupancy    int           `json:"peak_occupancy"`
	Level            LocationLevel `json:"level,omitempty"`
	SampleCount      int           `json:"sample_count"`
	TotalCameras     int           `json:"total_cameras"`
	DevicesReporting int           `json:"devices_reporting"`
	LastUpdated      time.Time     `json:"last_updated"`
	IsStale          bool          `json:"is_stale"`
}

type MapStatus string

const (
	StatusUnmonitored MapStatus = "unmonitored"
	StatusStale       MapStatus = "stale"
	StatusFresh       MapStatus = "fresh"
)

type MapEntry struct {
	LocationID  string        `json:"location_id"`
	Level       LocationLevel `json:"level,omitempty"`
	Occupancy   int           `json:"occupancy"`
	LastUpdated *time.Time    `json:"lastUpdated,omitempty"`
	IsStale     bool          `json:"isStale"`
	Status      MapStatus     `json:"status"`
}

type Alert struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	CameraID   string            `json:"camera_id,omitempty"`
	LocationID string            `json:"location_id,omitempty"`
	ZoneID     string            `json:"zone_id,omitempty"`
	Severity   string            `json:"severity"`
	AlertType  string            `json:"alert_type"`
	Level      string            `json:"level"`
	Value      float64           `json:"value"`
	Context    map[string]string `json:"context,omitempty"`
}
