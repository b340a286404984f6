package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdpulse/internal/model"
)

func frame(cam string, at time.Time, people int) model.FrameResult {
	return model.FrameResult{
		CameraID:    cam,
		CapturedAt:  at,
		TotalPeople: people,
		Snapshots: []model.ZoneOccupancySnapshot{
			{CameraID: cam, ZoneID: "door", PersonCount: people, Level: model.ZoneHigh},
		},
	}
}

func TestStoreKeepsNewestCapture(t *testing.T) {
	s := NewStore(10)
	t0 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	require.True(t, s.Update(frame("cam-a", t0.Add(time.Minute), 7)))
	assert.False(t, s.Update(frame("cam-a", t0, 2)))

	got, ok := s.Latest("cam-a")
	require.True(t, ok)
	assert.Equal(t, 7, got.TotalPeople)

	z, ok := s.Zone("cam-a", "door")
	require.True(t, ok)
	assert.Equal(t, model.ZoneHigh, z.Level)
	_, ok = s.Zone("cam-a", "till")
	assert.False(t, ok)
}

func TestStoreRejectsAnonymousFrame(t *testing.T) {
	s := NewStore(10)
	assert.False(t, s.Update(model.FrameResult{}))
	assert.Equal(t, 0, s.Len())
}

func TestStoreEvictsBeyondLimit(t *testing.T) {
	s := NewStore(2)
	now := time.Now()
	s.Update(frame("a", now, 1))
	time.Sleep(2 * time.Millisecond)
	s.Update(frame("b", now, 1))
	time.Sleep(2 * time.Millisecond)
	s.Update(frame("c", now, 1))

	assert.Equal(t, []string{"b", "c"}, s.Cameras())

	s.SetLimit(1)
	assert.Equal(t, []string{"c"}, s.Cameras())

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestLatestReturnsCopy(t *testing.T) {
	s := NewStore(0)
	s.Update(frame("cam", time.Now(), 3))
	got, _ := s.Latest("cam")
	got.Snapshots[0].PersonCount = 99
	again, _ := s.Latest("cam")
	assert.Equal(t, 3, again.Snapshots[0].PersonCount)
}

func TestRecordFrame(t *testing.T) {
	before := testutil.ToFloat64(PersonsDetected)
	RecordFrame(frame("cam-prom", time.Now(), 4))

	assert.Equal(t, before+4, testutil.ToFloat64(PersonsDetected))
	assert.Equal(t, 3.0, testutil.ToFloat64(ZoneLevel.WithLabelValues("cam-prom", "door")))
}

func TestRecordHeatmapAndDrops(t *testing.T) {
	before := testutil.ToFloat64(HeatmapPoints)
	RecordHeatmap(12)
	assert.Equal(t, before+12, testutil.ToFloat64(HeatmapPoints))

	dup := testutil.ToFloat64(ReportsDropped.WithLabelValues("duplicate"))
	RecordDropped("duplicate")
	assert.Equal(t, dup+1, testutil.ToFloat64(ReportsDropped.WithLabelValues("duplicate")))
}
