package normalize

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// RawReport is the wire shape cameras post. Several spellings of the same
// field are accepted because firmware revisions disagree.
type RawReport struct {
	Kind          string      `json:"kind"`
	CameraID      string      `json:"camera_id"`
	CameraIDCamel string      `json:"cameraId"`
	DeviceID      string      `json:"device_id"`
	DeviceIDCamel string      `json:"deviceId"`
	Timestamp     Stamp       `json:"timestamp"`
	CapturedAt    Stamp       `json:"captured_at"`
	StartTime     Stamp       `json:"start_time"`
	EndTime       Stamp       `json:"end_time"`
	Objects       []RawObject `json:"objects"`
	Detections    []RawObject `json:"detections"`
	Points        []RawPoint  `json:"points"`
	HeatmapPoints []RawPoint  `json:"heatmapPoints"`
}

type RawObject struct {
	Class          string   `json:"class"`
	DetectedObject string   `json:"detectedObject"`
	Label          string   `json:"label"`
	Confidence     *float64 `json:"confidence"`
	Score          *float64 `json:"score"`
	BBox           *RawBox  `json:"bbox"`
	BoundingBox    *RawBox  `json:"boundingBox"`
}

type RawPoint struct {
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Intensity *float64 `json:"intensity"`
	Value     *float64 `json:"value"`
}

// RawBox accepts either [x, y, w, h] or an object with x, y, width, height
// (w and h also work).
type RawBox struct {
	X, Y, W, H float64
}

func (b *RawBox) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		if len(arr) != 4 {
			return fmt.Errorf("bbox array needs 4 values, got %d", len(arr))
		}
		b.X, b.Y, b.W, b.H = arr[0], arr[1], arr[2], arr[3]
		return nil
	}
	var obj struct {
		X      float64  `json:"x"`
		Y      float64  `json:"y"`
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
		W      *float64 `json:"w"`
		H      *float64 `json:"h"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	b.X, b.Y = obj.X, obj.Y
	b.W = firstFloat(obj.Width, obj.W)
	b.H = firstFloat(obj.Height, obj.H)
	return nil
}

// Stamp keeps a timestamp as text until normalization, whether it arrived
// as a JSON string or a number.
type Stamp struct {
	Text string
}

func (s *Stamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.Text = v
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("timestamp must be a string or number: %s", data)
	}
	s.Text = string(data)
	return nil
}

func (s Stamp) IsZero() bool {
	return s.Text == ""
}

func firstFloat(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
