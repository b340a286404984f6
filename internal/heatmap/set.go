package heatmap

import (
	"sort"
	"sync"
)

// Set keeps one aggregator per camera.
type Set struct {
	mu       sync.Mutex
	gridSize float64
	byCamera map[string]*Aggregator
}

func NewSet(gridSize float64) *Set {
	return &Set{gridSize: gridSize, byCamera: make(map[string]*Aggregator)}
}

func (s *Set) GetOrCreate(cameraID string) *Aggregator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byCamera[cameraID]; ok {
		return a
	}
	a := NewAggregator(s.gridSize)
	s.byCamera[cameraID] = a
	return a
}

func (s *Set) Get(cameraID string) (*Aggregator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byCamera[cameraID]
	return a, ok
}

func (s *Set) Cameras() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.byCamera))
	for id := range s.byCamera {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset drops every camera's window. A new grid size applies to windows
// created afterwards.
func (s *Set) Reset(gridSize float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gridSize = gridSize
	s.byCamera = make(map[string]*Aggregator)
}
