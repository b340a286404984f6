package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"crowdpulse/internal/model"
)

var (
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdpulse_reports_total",
		Help: "Device reports processed, by kind",
	}, []string{"kind"})

	ReportsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdpulse_reports_dropped_total",
		Help: "Device reports dropped before processing, by reason",
	}, []string{"reason"})

	PersonsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowdpulse_persons_detected_total",
		Help: "Person detections accepted across all frames",
	})

	HeatmapPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowdpulse_heatmap_points_total",
		Help: "Heatmap points folded into aggregators",
	})

	// ZoneLevel is the rank (0 empty .. 4 overcrowded) of each zone's last frame.
	ZoneLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowdpulse_zone_level",
		Help: "Current zone occupancy level rank",
	}, []string{"camera", "zone"})

	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdpulse_ingest_errors_total",
		Help: "Payloads rejected by an ingest source",
	}, []string{"source"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdpulse_alerts_total",
		Help: "Crowd alerts raised, by type",
	}, []string{"type"})

	StorageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowdpulse_storage_errors_total",
		Help: "Failed writes to the persistence backend",
	})
)

func RecordFrame(fr model.FrameResult) {
	ReportsTotal.WithLabelValues(string(model.ReportDetection)).Inc()
	PersonsDetected.Add(float64(fr.TotalPeople))
	for _, z := range fr.Snapshots {
		ZoneLevel.WithLabelValues(fr.CameraID, z.ZoneID).Set(float64(z.Level.Rank()))
	}
}

func RecordHeatmap(accepted int) {
	ReportsTotal.WithLabelValues(string(model.ReportHeatmap)).Inc()
	HeatmapPoints.Add(float64(accepted))
}

func RecordDropped(reason string) {
	ReportsDropped.WithLabelValues(reason).Inc()
}

func RecordIngestError(source string) {
	IngestErrors.WithLabelValues(source).Inc()
}

func RecordAlert(alertType string) {
	AlertsRaised.WithLabelValues(alertType).Inc()
}

func ResetZoneLevels() {
	ZoneLevel.Reset()
}
