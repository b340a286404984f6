// Package rollup folds the sample windows of every camera at a business
// location into one crowd-level verdict.
package rollup

import (
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crowdpulse/internal/model"
	"crowdpulse/internal/window"
)

type Directory interface {
	DevicesForLocation(locationID string) []string
	Locations() []string
}

// CountBands are inclusive upper person-count bounds per level. They are a
// different scale from zone density bands and must not be mixed with them.
type CountBands struct {
	Empty  int `json:"empty" yaml:"empty"`
	Low    int `json:"low" yaml:"low"`
	Medium int `json:"medium" yaml:"medium"`
	High   int `json:"high" yaml:"high"`
}

func DefaultCountBands() CountBands {
	return CountBands{Empty: 0, Low: 3, Medium: 6, High: 10}
}

func (b CountBands) Classify(people int) model.LocationLevel {
	switch {
	case people <= b.Empty:
		return model.LocationEmpty
	case people <= b.Low:
		return model.LocationLow
	case people <= b.Medium:
		return model.LocationMedium
	case people <= b.High:
		return model.LocationHigh
	default:
		return model.LocationOvercrowded
	}
}

func (b CountBands) Valid() bool {
	return b.Empty >= 0 && b.Empty < b.Low && b.Low < b.Medium && b.Medium < b.High
}

type Settings struct {
	Horizon time.Duration
	Bands   CountBands
	// StaleFallback is shown for monitored locations with no recent data so
	// the map never reports "no data" as "no people".
	StaleFallback model.LocationLevel
	Mode          window.ReadMode
	FanoutLimit   int
}

func DefaultSettings() Settings {
	return Settings{
		Horizon:       window.DefaultHorizon,
		Bands:         DefaultCountBands(),
		StaleFallback: model.LocationModerate,
		Mode:          window.ModeLatest,
		FanoutLimit:   8,
	}
}

type Rollup struct {
	mu       sync.RWMutex
	dir      Directory
	windows  *window.Registry
	settings Settings
}

func New(dir Directory, windows *window.Registry, s Settings) *Rollup {
	r := &Rollup{windows: windows}
	r.Update(dir, s)
	return r
}

func (r *Rollup) Update(dir Directory, s Settings) {
	if s.Horizon <= 0 {
		s.Horizon = window.DefaultHorizon
	}
	if !s.Bands.Valid() {
		s.Bands = DefaultCountBands()
	}
	if s.StaleFallback == "" {
		s.StaleFallback = model.LocationModerate
	}
	if s.Mode == "" {
		s.Mode = window.ModeLatest
	}
	if s.FanoutLimit <= 0 {
		s.FanoutLimit = 8
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir = dir
	r.settings = s
}

func (r *Rollup) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

func (r *Rollup) Directory() Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// Compute uses the configured read mode.
func (r *Rollup) Compute(locationID string, now time.Time) model.LocationCrowdState {
	return r.ComputeWithMode(locationID, now, r.Settings().Mode)
}

func (r *Rollup) ComputeWithMode(locationID string, now time.Time, mode window.ReadMode) model.LocationCrowdState {
	r.mu.RLock()
	dir, s := r.dir, r.settings
	r.mu.RUnlock()

	state := model.LocationCrowdState{LocationID: locationID}
	var devices []string
	if dir != nil {
		devices = dir.DevicesForLocation(locationID)
	}
	if len(devices) == 0 {
		return state
	}
	state.Monitored = true
	state.TotalCameras = len(devices)

	readings := make([]window.Reading, len(devices))
	var g errgroup.Group
	g.SetLimit(s.FanoutLimit)
	for i, id := range devices {
		i, id := i, id
		g.Go(func() error {
			if w, ok := r.windows.Get(id); ok {
				readings[i] = w.Read(now, s.Horizon, mode)
			}
			return nil
		})
	}
	_ = g.Wait()

	var total float64
	for _, rd := range readings {
		if !rd.OK {
			continue
		}
		state.DevicesReporting++
		state.SampleCount += rd.Count
		total += rd.Value
		state.PeakOccupancy += rd.Peak
		if rd.Latest.Timestamp.After(state.LastUpdated) {
			state.LastUpdated = rd.Latest.Timestamp
		}
	}
	if state.DevicesReporting == 0 {
		state.IsStale = true
		state.Level = s.StaleFallback
		return state
	}
	state.CurrentOccupancy = int(math.Round(total))
	state.Level = s.Bands.Classify(state.CurrentOccupancy)
	return state
}
