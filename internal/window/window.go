// Package window keeps a rolling, time-bounded buffer of occupancy samples
// per device. Eviction is lazy: it happens on Append and on reads, never on
// a timer.
package window

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"crowdpulse/internal/model"
)

// ReadMode selects how a window is collapsed into one number. Latest tracks
// the most recent camera read and suits live display; Average smooths over
// the horizon and suits trend reporting.
type ReadMode string

const (
	ModeLatest  ReadMode = "latest"
	ModeAverage ReadMode = "average"
)

func ParseReadMode(s string) (ReadMode, error) {
	switch ReadMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLatest:
		return ModeLatest, nil
	case ModeAverage:
		return ModeAverage, nil
	}
	return "", fmt.Errorf("unknown read mode %q", s)
}

const DefaultHorizon = 5 * time.Minute

// Window is an append-only, time-ordered sample log for one device.
// Out-of-order appends are kept where they land; reads filter by timestamp so
// they are never returned once outside the horizon.
type Window struct {
	mu        sync.RWMutex
	deviceID  string
	retention time.Duration
	samples   []model.DeviceSample
	head      int
	newest    time.Time
}

func New(deviceID string, retention time.Duration) *Window {
	if retention <= 0 {
		retention = DefaultHorizon
	}
	return &Window{
		deviceID:  deviceID,
		retention: retention,
		samples:   make([]model.DeviceSample, 0, 64),
	}
}

func (w *Window) DeviceID() string {
	return w.deviceID
}

func (w *Window) Append(s model.DeviceSample) {
	if s.DeviceID == "" {
		s.DeviceID = w.deviceID
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	if s.Timestamp.After(w.newest) {
		w.newest = s.Timestamp
	}
	w.evictLocked(w.newest.Add(-w.retention))
}

// CurrentWindow returns every retained sample with timestamp >= now-horizon,
// in append order.
func (w *Window) CurrentWindow(now time.Time, horizon time.Duration) []model.DeviceSample {
	cutoff := w.prepare(now, horizon)
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.DeviceSample, 0, len(w.samples)-w.head)
	for _, s := range w.samples[w.head:] {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the newest in-horizon sample.
func (w *Window) Latest(now time.Time, horizon time.Duration) (model.DeviceSample, bool) {
	r := w.Read(now, horizon, ModeLatest)
	return r.Latest, r.OK
}

// Average returns the mean person count over the in-horizon samples.
func (w *Window) Average(now time.Time, horizon time.Duration) (float64, bool) {
	r := w.Read(now, horizon, ModeAverage)
	return r.Value, r.OK
}

type Reading struct {
	Mode   ReadMode
	Value  float64
	Latest model.DeviceSample
	Peak   int
	Count  int
	OK     bool
}

// Read collapses the in-horizon samples with the requested mode. Latest,
// Peak and Count are filled regardless of mode.
func (w *Window) Read(now time.Time, horizon time.Duration, mode ReadMode) Reading {
	samples := w.CurrentWindow(now, horizon)
	r := Reading{Mode: mode, Count: len(samples)}
	if len(samples) == 0 {
		return r
	}
	r.OK = true
	counts := make([]float64, len(samples))
	for i, s := range samples {
		counts[i] = float64(s.PersonCount)
		if i == 0 || !s.Timestamp.Before(r.Latest.Timestamp) {
			r.Latest = s
		}
		if s.PersonCount > r.Peak {
			r.Peak = s.PersonCount
		}
	}
	switch mode {
	case ModeAverage:
		r.Value = stat.Mean(counts, nil)
	default:
		r.Value = float64(r.Latest.PersonCount)
	}
	return r
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples) - w.head
}

// prepare evicts what no read can need any more and returns the read cutoff.
// A read shorter than the retention must not drop samples a longer read
// could still use.
func (w *Window) prepare(now time.Time, horizon time.Duration) time.Time {
	cutoff := now.Add(-horizon)
	evictAt := cutoff
	if horizon < w.retention {
		evictAt = now.Add(-w.retention)
	}
	w.mu.RLock()
	stale := w.head < len(w.samples) && w.samples[w.head].Timestamp.Before(evictAt)
	w.mu.RUnlock()
	if stale {
		w.mu.Lock()
		w.evictLocked(evictAt)
		w.mu.Unlock()
	}
	return cutoff
}

func (w *Window) evictLocked(cutoff time.Time) {
	for w.head < len(w.samples) {
		if !w.samples[w.head].Timestamp.Before(cutoff) {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.samples) {
		w.samples = append([]model.DeviceSample{}, w.samples[w.head:]...)
		w.head = 0
	}
}

func (w *Window) setRetention(retention time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retention = retention
}
