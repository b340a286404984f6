package window

import (
	"sort"
	"sync"
	"time"
)

// Registry owns one Window per device. Reads never create entries.
type Registry struct {
	mu        sync.RWMutex
	retention time.Duration
	windows   map[string]*Window
}

func NewRegistry(retention time.Duration) *Registry {
	return &Registry{retention: retention, windows: make(map[string]*Window)}
}

func (r *Registry) GetOrCreate(deviceID string) *Window {
	r.mu.RLock()
	w, ok := r.windows[deviceID]
	r.mu.RUnlock()
	if ok {
		return w
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[deviceID]; ok {
		return w
	}
	w = New(deviceID, r.retention)
	r.windows[deviceID] = w
	return w
}

func (r *Registry) Get(deviceID string) (*Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[deviceID]
	return w, ok
}

func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.windows))
	for id := range r.windows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.windows)
}

// Reset drops all windows. The new retention applies to windows created
// afterwards.
func (r *Registry) Reset(retention time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retention = retention
	r.windows = make(map[string]*Window)
}

// SetRetention changes how long every window keeps samples.
func (r *Registry) SetRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultHorizon
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retention = retention
	for _, w := range r.windows {
		w.setRetention(retention)
	}
}
