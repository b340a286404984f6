package engine

import (
	"crowdpulse/internal/config"
	"crowdpulse/internal/model"
	"crowdpulse/internal/occupancy"
	"crowdpulse/internal/rollup"
	"crowdpulse/internal/window"
)

func occupancySettings(p config.OccupancyProfile) occupancy.Settings {
	return occupancy.Settings{
		ReferenceUnit: p.ReferenceUnit,
		Bands: occupancy.Bands{
			Empty:  p.DensityBands.Empty,
			Low:    p.DensityBands.Low,
			Medium: p.DensityBands.Medium,
			High:   p.DensityBands.High,
		},
		MinConfidence: p.MinConfidence,
	}
}

func rollupSettings(c config.CrowdConfig) rollup.Settings {
	mode, err := window.ParseReadMode(c.ReadMode)
	if err != nil {
		mode = window.ModeLatest
	}
	return rollup.Settings{
		Horizon: c.Horizon,
		Bands: rollup.CountBands{
			Empty:  c.CountBands.Empty,
			Low:    c.CountBands.Low,
			Medium: c.CountBands.Medium,
			High:   c.CountBands.High,
		},
		StaleFallback: model.LocationLevel(c.StaleFallback),
		Mode:          mode,
		FanoutLimit:   c.FanoutLimit,
	}
}

// calculators builds one calculator per overridden camera plus the shared
// default.
func calculators(cfg config.OccupancyConfig) (*occupancy.Calculator, map[string]*occupancy.Calculator) {
	def := occupancy.NewCalculator(occupancySettings(cfg.OccupancyProfile))
	per := make(map[string]*occupancy.Calculator, len(cfg.CameraOverrides))
	for cam := range cfg.CameraOverrides {
		per[cam] = occupancy.NewCalculator(occupancySettings(cfg.ForCamera(cam)))
	}
	return def, per
}

func severityFor(rank int) string {
	switch {
	case rank >= 4:
		return "high"
	case rank == 3:
		return "medium"
	}
	return "low"
}
