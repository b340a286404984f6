package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 7, 4, 20, 0, 0, 0, time.UTC)

func TestRingOverwritesOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		a := New(base.Add(time.Duration(i)*time.Second), TypeZoneOvercrowded, "high", "overcrowded", float64(i))
		s.Add(a)
	}
	got := s.List(0)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{got[0].Value, got[1].Value, got[2].Value})

	last := s.List(1)
	require.Len(t, last, 1)
	assert.Equal(t, 4.0, last[0].Value)
}

func TestSinceAndForLocation(t *testing.T) {
	s := NewStore(10)
	a := New(base, TypeLocationOvercrowded, "high", "overcrowded", 12)
	a.LocationID = "cafe"
	b := New(base.Add(time.Minute), TypeZoneOvercrowded, "high", "overcrowded", 6.2)
	b.LocationID = "bar"
	s.Add(a)
	s.Add(b)

	since := s.Since(base.Add(30 * time.Second))
	require.Len(t, since, 1)
	assert.Equal(t, "bar", since[0].LocationID)

	cafe := s.ForLocation("cafe", 0)
	require.Len(t, cafe, 1)
	assert.Equal(t, a.ID, cafe[0].ID)
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New(base, TypeZoneOvercrowded, "high", "overcrowded", 1)
	b := New(base, TypeZoneOvercrowded, "high", "overcrowded", 1)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestClear(t *testing.T) {
	s := NewStore(2)
	s.Add(New(base, TypeZoneOvercrowded, "high", "overcrowded", 1))
	s.Add(New(base, TypeZoneOvercrowded, "high", "overcrowded", 2))
	s.Add(New(base, TypeZoneOvercrowded, "high", "overcrowded", 3))
	s.Clear()
	assert.Equal(t, 0, s.Len())
	s.Add(New(base, TypeZoneOvercrowded, "high", "overcrowded", 4))
	assert.Len(t, s.List(0), 1)
}
