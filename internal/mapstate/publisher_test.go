package mapstate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdpulse/internal/heatmap"
	"crowdpulse/internal/model"
	"crowdpulse/internal/rollup"
	"crowdpulse/internal/window"
)

type staticDir struct {
	order   []string
	devices map[string][]string
}

func (d staticDir) DevicesForLocation(id string) []string { return d.devices[id] }
func (d staticDir) Locations() []string                 { return d.order }

type frames map[string]model.FrameResult

func (f frames) Latest(cameraID string) (model.FrameResult, bool) {
	fr, ok := f[cameraID]
	return fr, ok
}

var now = time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC)

func fixture(horizon time.Duration) (*Publisher, *window.Registry) {
	reg := window.NewRegistry(10 * time.Minute)
	dir := staticDir{
		order: []string{"cafe", "kiosk", "warehouse"},
		devices: map[string][]string{
			"cafe":  {"cam-a", "cam-b"},
			"kiosk": {"cam-quiet"},
		},
	}
	s := rollup.DefaultSettings()
	s.Horizon = horizon
	r := rollup.New(dir, reg, s)
	return New(r, nil, nil, 0), reg
}

func seed(reg *window.Registry) {
	reg.GetOrCreate("cam-a").Append(model.DeviceSample{DeviceID: "cam-a", Timestamp: now.Add(-30 * time.Second), PersonCount: 4})
	reg.GetOrCreate("cam-b").Append(model.DeviceSample{DeviceID: "cam-b", Timestamp: now.Add(-200 * time.Second), PersonCount: 6})
}

func TestQueryHorizonScenarios(t *testing.T) {
	short, reg := fixture(100 * time.Second)
	seed(reg)
	got := short.Query([]string{"cafe"}, now)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Occupancy)
	assert.Equal(t, model.StatusFresh, got[0].Status)

	long, reg := fixture(300 * time.Second)
	seed(reg)
	got = long.Query([]string{"cafe"}, now)
	assert.Equal(t, 10, got[0].Occupancy)
	assert.Equal(t, model.LocationHigh, got[0].Level)
	require.NotNil(t, got[0].LastUpdated)
	assert.Equal(t, now.Add(-30*time.Second), *got[0].LastUpdated)
}

func TestQueryDistinguishesStaleFromUnmonitored(t *testing.T) {
	p, reg := fixture(5 * time.Minute)
	seed(reg)

	got := p.Query([]string{"warehouse", "kiosk", "cafe", "missing"}, now)
	want := []model.MapEntry{
		{LocationID: "warehouse", Status: model.StatusUnmonitored},
		{LocationID: "kiosk", Level: model.LocationModerate, IsStale: true, Status: model.StatusStale},
	}
	if diff := cmp.Diff(want, got[:2]); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "cafe", got[2].LocationID)
	assert.Equal(t, model.StatusFresh, got[2].Status)
	assert.Equal(t, model.StatusUnmonitored, got[3].Status)
	assert.Empty(t, got[3].Level)
}

func TestQueryAllFollowsDirectoryOrder(t *testing.T) {
	p, _ := fixture(time.Minute)
	got := p.QueryAll(now)
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.LocationID
	}
	assert.Equal(t, []string{"cafe", "kiosk", "warehouse"}, ids)
	assert.Equal(t, model.StatusStale, got[0].Status)
}

func TestQueryEmptyRequest(t *testing.T) {
	p, _ := fixture(time.Minute)
	assert.Empty(t, p.Query(nil, now))
}

func TestCameraHeatmap(t *testing.T) {
	reg := window.NewRegistry(0)
	r := rollup.New(staticDir{}, reg, rollup.DefaultSettings())
	heat := heatmap.NewSet(100)
	heat.GetOrCreate("cam-a").Add(now,
		model.HeatmapPoint{X: 10, Y: 10, Intensity: 1},
		model.HeatmapPoint{X: 250, Y: 10, Intensity: 3},
	)
	fr := frames{"cam-a": {
		CameraID:    "cam-a",
		CapturedAt:  now,
		TotalPeople: 2,
		Snapshots:   []model.ZoneOccupancySnapshot{{ZoneID: "door", PersonCount: 2, Level: model.ZoneLow}},
	}}
	p := New(r, fr, heat, 1)

	view, ok := p.CameraHeatmap("cam-a")
	require.True(t, ok)
	assert.Equal(t, 2, view.TotalPeople)
	require.Len(t, view.Zones, 1)
	require.NotNil(t, view.Heatmap)
	require.Len(t, view.Heatmap.Hotspots, 1)
	assert.Equal(t, "2-0", view.Heatmap.Hotspots[0].BucketKey)

	_, ok = p.CameraHeatmap("cam-unknown")
	assert.False(t, ok)
}
