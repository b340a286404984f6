// Package mapstate turns location crowd states into the entries the public
// map renders. It only reads; nothing here mutates a window.
package mapstate

import (
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"crowdpulse/internal/heatmap"
	"crowdpulse/internal/model"
	"crowdpulse/internal/rollup"
)

type FrameSource interface {
	Latest(cameraID string) (model.FrameResult, bool)
}

type CameraView struct {
	CameraID    string                        `json:"camera_id"`
	CapturedAt  time.Time                     `json:"captured_at"`
	TotalPeople int                           `json:"total_people"`
	Zones       []model.ZoneOccupancySnapshot `json:"zones"`
	Heatmap     *model.HeatmapSummary         `json:"heatmap,omitempty"`
}

type Publisher struct {
	rollup *rollup.Rollup
	frames FrameSource
	heat   *heatmap.Set
	topN   atomic.Int64
}

func New(r *rollup.Rollup, frames FrameSource, heat *heatmap.Set, topN int) *Publisher {
	p := &Publisher{rollup: r, frames: frames, heat: heat}
	p.SetTopN(topN)
	return p
}

func (p *Publisher) SetTopN(n int) {
	if n <= 0 {
		n = heatmap.DefaultTopN
	}
	p.topN.Store(int64(n))
}

// States computes one state per id, preserving request order.
func (p *Publisher) States(ids []string, now time.Time) []model.LocationCrowdState {
	out := make([]model.LocationCrowdState, len(ids))
	var g errgroup.Group
	g.SetLimit(p.rollup.Settings().FanoutLimit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			out[i] = p.rollup.Compute(id, now)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Publisher) Query(ids []string, now time.Time) []model.MapEntry {
	states := p.States(ids, now)
	out := make([]model.MapEntry, len(states))
	for i, s := range states {
		out[i] = Entry(s)
	}
	return out
}

func (p *Publisher) QueryAll(now time.Time) []model.MapEntry {
	dir := p.rollup.Directory()
	if dir == nil {
		return []model.MapEntry{}
	}
	return p.Query(dir.Locations(), now)
}

// Entry projects a state onto the map. Unmonitored and stale locations keep
// separate statuses even though a stale one still shows a level.
func Entry(s model.LocationCrowdState) model.MapEntry {
	e := model.MapEntry{LocationID: s.LocationID}
	switch {
	case !s.Monitored:
		e.Status = model.StatusUnmonitored
		return e
	case s.IsStale:
		e.Status = model.StatusStale
		e.IsStale = true
	default:
		e.Status = model.StatusFresh
	}
	e.Level = s.Level
	e.Occupancy = s.CurrentOccupancy
	if !s.LastUpdated.IsZero() {
		ts := s.LastUpdated
		e.LastUpdated = &ts
	}
	return e
}

// CameraHeatmap combines the last zone snapshots for a camera with its open
// heatmap window. ok is false when the camera has produced neither.
func (p *Publisher) CameraHeatmap(cameraID string) (CameraView, bool) {
	view := CameraView{CameraID: cameraID, Zones: []model.ZoneOccupancySnapshot{}}
	found := false
	if p.frames != nil {
		if fr, ok := p.frames.Latest(cameraID); ok {
			found = true
			view.CapturedAt = fr.CapturedAt
			view.TotalPeople = fr.TotalPeople
			view.Zones = append(view.Zones, fr.Snapshots...)
		}
	}
	if p.heat != nil {
		if agg, ok := p.heat.Get(cameraID); ok && agg.Len() > 0 {
			found = true
			sum := agg.Summary(cameraID, int(p.topN.Load()))
			view.Heatmap = &sum
		}
	}
	return view, found
}
