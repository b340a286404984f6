// Package heatmap accumulates intensity points into a fixed spatial grid for
// one reporting window and ranks the hottest cells.
package heatmap

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"crowdpulse/internal/model"
)

const (
	DefaultGridSize = 100.0
	DefaultTopN     = 10
)

type BucketKey struct {
	X int
	Y int
}

// String keeps the "x-y" form existing dashboards parse.
func (k BucketKey) String() string {
	return strconv.Itoa(k.X) + "-" + strconv.Itoa(k.Y)
}

// maxCell bounds cell indexes to integers a float64 represents exactly.
const maxCell = 1 << 53

// KeyFor maps p to its grid cell. ok is false when a coordinate is not finite
// or its cell index falls outside the representable range.
func KeyFor(p model.HeatmapPoint, gridSize float64) (BucketKey, bool) {
	x, okX := cellIndex(p.X, gridSize)
	y, okY := cellIndex(p.Y, gridSize)
	if !okX || !okY {
		return BucketKey{}, false
	}
	return BucketKey{X: x, Y: y}, true
}

func cellIndex(v, gridSize float64) (int, bool) {
	c := math.Floor(v / gridSize)
	if !finite(c) || c > maxCell || c < -maxCell {
		return 0, false
	}
	return int(c), true
}

type bucket struct {
	sum   float64
	count int
}

// Aggregator is safe for concurrent use. Internal buckets never leave it;
// readers get copies.
type Aggregator struct {
	mu       sync.Mutex
	gridSize float64
	buckets  map[BucketKey]*bucket
	order    []BucketKey
	total    int
	sum      float64
	hottest  model.HeatmapPoint
	coldest  model.HeatmapPoint
	start    time.Time
	end      time.Time
}

func NewAggregator(gridSize float64) *Aggregator {
	if gridSize <= 0 || math.IsNaN(gridSize) || math.IsInf(gridSize, 0) {
		gridSize = DefaultGridSize
	}
	a := &Aggregator{gridSize: gridSize}
	a.resetLocked()
	return a
}

// Add folds points observed at ts into the current window and returns how
// many were accepted. Points without a valid grid cell or intensity are skipped.
func (a *Aggregator) Add(ts time.Time, points ...model.HeatmapPoint) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	accepted := 0
	for _, p := range points {
		if !finite(p.Intensity) {
			continue
		}
		key, ok := KeyFor(p, a.gridSize)
		if !ok {
			continue
		}
		b, ok := a.buckets[key]
		if !ok {
			b = &bucket{}
			a.buckets[key] = b
			a.order = append(a.order, key)
		}
		b.sum += p.Intensity
		b.count++
		if a.total == 0 || p.Intensity > a.hottest.Intensity {
			a.hottest = p
		}
		// Equal minimums move coldest to the latest point; hottest keeps the first.
		if a.total == 0 || p.Intensity <= a.coldest.Intensity {
			a.coldest = p
		}
		a.total++
		a.sum += p.Intensity
		accepted++
	}
	if accepted > 0 && !ts.IsZero() {
		if a.start.IsZero() || ts.Before(a.start) {
			a.start = ts
		}
		if ts.After(a.end) {
			a.end = ts
		}
	}
	return accepted
}

// Hotspots ranks buckets by average intensity, highest first. Equal averages
// keep first-seen order. At most n entries are returned.
func (a *Aggregator) Hotspots(n int) []model.HeatmapBucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hotspotsLocked(n)
}

func (a *Aggregator) hotspotsLocked(n int) []model.HeatmapBucket {
	if n <= 0 || len(a.order) == 0 {
		return []model.HeatmapBucket{}
	}
	ranked := make([]model.HeatmapBucket, 0, len(a.order))
	for _, key := range a.order {
		b := a.buckets[key]
		ranked = append(ranked, model.HeatmapBucket{
			BucketKey:    key.String(),
			AvgIntensity: b.sum / float64(b.count),
			SampleCount:  b.count,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AvgIntensity > ranked[j].AvgIntensity
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Summary reports the window so far. Hottest and coldest are single raw
// points, not bucket averages.
func (a *Aggregator) Summary(cameraID string, topN int) model.HeatmapSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaryLocked(cameraID, topN)
}

func (a *Aggregator) summaryLocked(cameraID string, topN int) model.HeatmapSummary {
	s := model.HeatmapSummary{
		CameraID:    cameraID,
		WindowStart: a.start,
		WindowEnd:   a.end,
		TotalPoints: a.total,
		Hotspots:    a.hotspotsLocked(topN),
	}
	if a.total > 0 {
		s.AvgIntensity = a.sum / float64(a.total)
		s.HottestZone = pointLabel(a.hottest)
		s.ColdestZone = pointLabel(a.coldest)
	}
	return s
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Rotate closes the current window and starts a fresh one.
func (a *Aggregator) Rotate(cameraID string, topN int) model.HeatmapSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.summaryLocked(cameraID, topN)
	a.resetLocked()
	return s
}

// RotateIfElapsed rotates once the window that started at the first point is
// older than span. Empty windows never rotate.
func (a *Aggregator) RotateIfElapsed(cameraID string, now time.Time, span time.Duration, topN int) (model.HeatmapSummary, bool) {
	if span <= 0 {
		return model.HeatmapSummary{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.total == 0 || a.start.IsZero() || now.Sub(a.start) < span {
		return model.HeatmapSummary{}, false
	}
	s := a.summaryLocked(cameraID, topN)
	a.resetLocked()
	return s, true
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.buckets = make(map[BucketKey]*bucket)
	a.order = nil
	a.total = 0
	a.sum = 0
	a.hottest = model.HeatmapPoint{}
	a.coldest = model.HeatmapPoint{}
	a.start = time.Time{}
	a.end = time.Time{}
}

func pointLabel(p model.HeatmapPoint) string {
	return fmt.Sprintf("Zone (%s, %s)", formatCoord(p.X), formatCoord(p.Y))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
