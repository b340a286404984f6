package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"crowdpulse/internal/model"
)

const (
	TypeZoneOvercrowded     = "zone_overcrowded"
	TypeLocationOvercrowded = "location_overcrowded"
)

// New stamps a fresh alert with an id.
func New(ts time.Time, alertType, severity, level string, value float64) model.Alert {
	return model.Alert{
		ID:        uuid.NewString(),
		Timestamp: ts,
		AlertType: alertType,
		Severity:  severity,
		Level:     level,
		Value:     value,
	}
}

// Store is a fixed-size ring of recent alerts, oldest overwritten first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	next  int
	full  bool
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, buf: make([]model.Alert, 0, min(limit, 64))}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		s.buf = append(s.buf, alert)
		if len(s.buf) == s.limit {
			s.full = true
			s.next = 0
		}
		return
	}
	s.buf[s.next] = alert
	s.next = (s.next + 1) % s.limit
}

// ordered returns alerts oldest first. Caller holds the lock.
func (s *Store) ordered() []model.Alert {
	out := make([]model.Alert, 0, len(s.buf))
	if !s.full {
		return append(out, s.buf...)
	}
	out = append(out, s.buf[s.next:]...)
	return append(out, s.buf[:s.next]...)
}

// List returns the newest limit alerts, oldest first.
func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.ordered()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	return all[len(all)-limit:]
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.ordered() {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) ForLocation(locationID string, limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.ordered() {
		if a.LocationID == locationID {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
	s.next = 0
	s.full = false
}
