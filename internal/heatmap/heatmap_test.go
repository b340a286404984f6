package heatmap

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdpulse/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBucketKeying(t *testing.T) {
	cases := []struct {
		p    model.HeatmapPoint
		want BucketKey
	}{
		{model.HeatmapPoint{X: 99.9, Y: 0}, BucketKey{X: 0, Y: 0}},
		{model.HeatmapPoint{X: 100, Y: 250}, BucketKey{X: 1, Y: 2}},
		{model.HeatmapPoint{X: -0.5, Y: 10}, BucketKey{X: -1, Y: 0}},
	}
	for _, tc := range cases {
		got, ok := KeyFor(tc.p, 100)
		require.True(t, ok)
		assert.Equal(t, tc.want, got)
	}
	assert.Equal(t, "3-7", BucketKey{X: 3, Y: 7}.String())
}

func TestHotspotsRankedByAverage(t *testing.T) {
	a := NewAggregator(100)
	a.Add(t0,
		model.HeatmapPoint{X: 10, Y: 10, Intensity: 0.2},
		model.HeatmapPoint{X: 20, Y: 20, Intensity: 0.4},
		model.HeatmapPoint{X: 150, Y: 10, Intensity: 0.9},
		model.HeatmapPoint{X: 250, Y: 250, Intensity: 0.5},
	)
	got := a.Hotspots(10)
	want := []model.HeatmapBucket{
		{BucketKey: "1-0", AvgIntensity: 0.9, SampleCount: 1},
		{BucketKey: "2-2", AvgIntensity: 0.5, SampleCount: 1},
		{BucketKey: "0-0", AvgIntensity: 0.3, SampleCount: 2},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("hotspots mismatch (-want +got):\n%s", diff)
	}
}

func TestHotspotsTieKeepsFirstSeen(t *testing.T) {
	a := NewAggregator(100)
	a.Add(t0,
		model.HeatmapPoint{X: 550, Y: 50, Intensity: 1},
		model.HeatmapPoint{X: 50, Y: 50, Intensity: 1},
		model.HeatmapPoint{X: 350, Y: 50, Intensity: 1},
	)
	got := a.Hotspots(3)
	require.Len(t, got, 3)
	assert.Equal(t, "5-0", got[0].BucketKey)
	assert.Equal(t, "0-0", got[1].BucketKey)
	assert.Equal(t, "3-0", got[2].BucketKey)
}

func TestHotspotsRespectTopN(t *testing.T) {
	a := NewAggregator(100)
	for i := 0; i < 25; i++ {
		a.Add(t0, model.HeatmapPoint{X: float64(i) * 100, Y: 0, Intensity: float64(i)})
	}
	assert.Len(t, a.Hotspots(DefaultTopN), DefaultTopN)
	assert.Len(t, a.Hotspots(3), 3)
	assert.Empty(t, a.Hotspots(0))
	assert.Equal(t, "24-0", a.Hotspots(1)[0].BucketKey)
}

func TestSummaryUsesRawPointExtremes(t *testing.T) {
	a := NewAggregator(100)
	a.Add(t0,
		model.HeatmapPoint{X: 10, Y: 10, Intensity: 0.95},
		model.HeatmapPoint{X: 20, Y: 20, Intensity: 0.05},
		model.HeatmapPoint{X: 150, Y: 150, Intensity: 0.6},
		model.HeatmapPoint{X: 160, Y: 160, Intensity: 0.6},
	)
	s := a.Summary("cam-1", 10)
	// Bucket 1-1 has the higher average but the hottest single point is in 0-0.
	assert.Equal(t, "1-1", s.Hotspots[0].BucketKey)
	assert.Equal(t, "Zone (10, 10)", s.HottestZone)
	assert.Equal(t, "Zone (20, 20)", s.ColdestZone)
	assert.Equal(t, 4, s.TotalPoints)
	assert.InDelta(t, 0.55, s.AvgIntensity, 1e-9)
	assert.Equal(t, t0, s.WindowStart)
}

func TestHugeCoordinatesAreSkipped(t *testing.T) {
	_, ok := KeyFor(model.HeatmapPoint{X: 1e300, Y: 0}, 100)
	assert.False(t, ok)
	_, ok = KeyFor(model.HeatmapPoint{X: 0, Y: -1e300}, 100)
	assert.False(t, ok)

	a := NewAggregator(100)
	n := a.Add(t0,
		model.HeatmapPoint{X: 1e300, Y: 0, Intensity: 0.9},
		model.HeatmapPoint{X: -1e300, Y: 0, Intensity: 0.1},
		model.HeatmapPoint{X: 50, Y: 50, Intensity: 0.5},
	)
	assert.Equal(t, 1, n)
	hot := a.Hotspots(10)
	require.Len(t, hot, 1)
	assert.Equal(t, "0-0", hot[0].BucketKey)
}

func TestColdestTieKeepsLastSeen(t *testing.T) {
	a := NewAggregator(100)
	a.Add(t0,
		model.HeatmapPoint{X: 10, Y: 10, Intensity: 0.8},
		model.HeatmapPoint{X: 20, Y: 20, Intensity: 0.8},
		model.HeatmapPoint{X: 30, Y: 30, Intensity: 0.1},
		model.HeatmapPoint{X: 40, Y: 40, Intensity: 0.1},
	)
	s := a.Summary("cam-1", 10)
	assert.Equal(t, "Zone (10, 10)", s.HottestZone)
	assert.Equal(t, "Zone (40, 40)", s.ColdestZone)
}

func TestEmptyAndNonFiniteInput(t *testing.T) {
	a := NewAggregator(0)
	n := a.Add(t0,
		model.HeatmapPoint{X: math.NaN(), Y: 1, Intensity: 1},
		model.HeatmapPoint{X: 1, Y: 1, Intensity: math.Inf(1)},
	)
	assert.Zero(t, n)
	s := a.Summary("cam-1", 10)
	assert.Empty(t, s.Hotspots)
	assert.Empty(t, s.HottestZone)
	assert.Zero(t, s.AvgIntensity)
}

func TestRotateStartsFreshWindow(t *testing.T) {
	a := NewAggregator(100)
	a.Add(t0, model.HeatmapPoint{X: 1, Y: 1, Intensity: 0.7})
	_, rotated := a.RotateIfElapsed("cam-1", t0.Add(30*time.Second), time.Minute, 10)
	assert.False(t, rotated)
	closed, rotated := a.RotateIfElapsed("cam-1", t0.Add(2*time.Minute), time.Minute, 10)
	require.True(t, rotated)
	assert.Equal(t, 1, closed.TotalPoints)
	assert.Zero(t, a.Len())
	assert.Empty(t, a.Hotspots(10))

	a.Add(t0, model.HeatmapPoint{X: 1, Y: 1, Intensity: 0.1})
	s := a.Rotate("cam-1", 10)
	assert.Equal(t, 0.1, s.Hotspots[0].AvgIntensity)
	assert.Zero(t, a.Len())
}

func TestSetPerCamera(t *testing.T) {
	s := NewSet(100)
	s.GetOrCreate("b").Add(t0, model.HeatmapPoint{X: 1, Y: 1, Intensity: 1})
	s.GetOrCreate("a")
	assert.Equal(t, []string{"a", "b"}, s.Cameras())
	agg, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, 1, agg.Len())
	_, ok = s.Get("missing")
	assert.False(t, ok)
	s.Reset(50)
	assert.Empty(t, s.Cameras())
}
