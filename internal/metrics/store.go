package metrics

import (
	"sort"
	"sync"
	"time"

	"crowdpulse/internal/model"
)

// Store keeps the most recent frame result per camera. When more cameras
// than limit have reported, the one updated longest ago is dropped.
type Store struct {
	mu        sync.RWMutex
	frames    map[string]model.FrameResult
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		frames:    make(map[string]model.FrameResult),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

// Update replaces the camera's frame unless the stored one was captured
// later; replayed or delayed reports never roll the view backwards.
func (s *Store) Update(fr model.FrameResult) bool {
	if fr.CameraID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.frames[fr.CameraID]; ok && prev.CapturedAt.After(fr.CapturedAt) {
		return false
	}
	fr.Snapshots = append([]model.ZoneOccupancySnapshot(nil), fr.Snapshots...)
	s.frames[fr.CameraID] = fr
	s.updatedAt[fr.CameraID] = time.Now().UTC()
	if len(s.frames) > s.limit {
		s.evictOldest()
	}
	return true
}

func (s *Store) Latest(cameraID string) (model.FrameResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fr, ok := s.frames[cameraID]
	if !ok {
		return model.FrameResult{}, false
	}
	fr.Snapshots = append([]model.ZoneOccupancySnapshot(nil), fr.Snapshots...)
	return fr, true
}

func (s *Store) Zone(cameraID, zoneID string) (model.ZoneOccupancySnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, z := range s.frames[cameraID].Snapshots {
		if z.ZoneID == zoneID {
			return z, true
		}
	}
	return model.ZoneOccupancySnapshot{}, false
}

func (s *Store) Cameras() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.frames))
	for id := range s.frames {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

func (s *Store) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	for len(s.frames) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) evictOldest() {
	var oldestCam string
	var oldest time.Time
	for cam, ts := range s.updatedAt {
		if oldestCam == "" || ts.Before(oldest) {
			oldestCam = cam
			oldest = ts
		}
	}
	if oldestCam != "" {
		delete(s.frames, oldestCam)
		delete(s.updatedAt, oldestCam)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = make(map[string]model.FrameResult)
	s.updatedAt = make(map[string]time.Time)
}
