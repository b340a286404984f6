package ingest

import (
	"context"
	"log/slog"
	"time"

	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
)

// SendNonBlocking hands a report to the engine. A full channel drops the
// report rather than stalling the source.
func SendNonBlocking(ctx context.Context, out chan<- model.DeviceReport, rep model.DeviceReport, logger *slog.Logger) bool {
	select {
	case out <- rep:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.RecordDropped("channel_full")
		if logger != nil {
			logger.Warn("report channel full, dropping report", "camera_id", rep.CameraID(), "kind", rep.Kind, "source", rep.Source)
		}
		return false
	}
}

// forward sends every report and returns how many were accepted.
func forward(ctx context.Context, out chan<- model.DeviceReport, reports []model.DeviceReport, logger *slog.Logger) int {
	n := 0
	for _, rep := range reports {
		if SendNonBlocking(ctx, out, rep, logger) {
			n++
		}
	}
	return n
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
