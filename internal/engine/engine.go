package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"crowdpulse/internal/alerts"
	"crowdpulse/internal/config"
	"crowdpulse/internal/directory"
	"crowdpulse/internal/heatmap"
	"crowdpulse/internal/mapstate"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
	"crowdpulse/internal/occupancy"
	"crowdpulse/internal/rollup"
	"crowdpulse/internal/storage"
	"crowdpulse/internal/window"
)

const heatmapFlushInterval = 5 * time.Second

// runtime is everything derived from one configuration. It is swapped as a
// whole on reload.
type runtime struct {
	cfg    *config.Config
	dir    *directory.Static
	calc   *occupancy.Calculator
	perCam map[string]*occupancy.Calculator
}

func (r *runtime) calculator(cameraID string) *occupancy.Calculator {
	if c, ok := r.perCam[cameraID]; ok {
		return c
	}
	return r.calc
}

type Engine struct {
	logger    *slog.Logger
	frames    *metrics.Store
	alerts    *alerts.Store
	store     storage.Store
	rt        atomic.Pointer[runtime]
	windows   *window.Registry
	heat      *heatmap.Set
	rollup    *rollup.Rollup
	publisher *mapstate.Publisher
	cooldown  *Cooldown
	dedupe    *DedupeCache
	started   time.Time
	now       func() time.Time

	mu        sync.Mutex
	lastLevel map[string]model.LocationLevel
}

func NewEngine(cfg *config.Config, logger *slog.Logger, frames *metrics.Store, alertsStore *alerts.Store, store storage.Store) *Engine {
	rt := buildRuntime(cfg)
	e := &Engine{
		logger:    logger,
		frames:    frames,
		alerts:    alertsStore,
		store:     store,
		windows:   window.NewRegistry(cfg.Crowd.Horizon),
		heat:      heatmap.NewSet(cfg.Heatmap.GridSize),
		cooldown:  NewCooldown(),
		dedupe:    NewDedupeCache(),
		started:   time.Now().UTC(),
		now:       time.Now,
		lastLevel: make(map[string]model.LocationLevel),
	}
	e.rt.Store(rt)
	e.rollup = rollup.New(rt.dir, e.windows, rollupSettings(cfg.Crowd))
	e.publisher = mapstate.New(e.rollup, frames, e.heat, cfg.Heatmap.TopN)
	return e
}

func buildRuntime(cfg *config.Config) *runtime {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	calc, perCam := calculators(cfg.Occupancy)
	return &runtime{
		cfg:    cfg,
		dir:    directory.FromConfig(cfg.Directory),
		calc:   calc,
		perCam: perCam,
	}
}

// UpdateConfig applies a reloaded configuration. Retained samples survive; a
// changed heatmap grid restarts the open heatmap windows.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	prev := e.config()
	rt := buildRuntime(cfg)
	e.rt.Store(rt)
	e.windows.SetRetention(rt.cfg.Crowd.Horizon)
	e.rollup.Update(rt.dir, rollupSettings(rt.cfg.Crowd))
	e.publisher.SetTopN(rt.cfg.Heatmap.TopN)
	e.frames.SetLimit(rt.cfg.Metrics.StoreLimit)
	if prev.Heatmap.GridSize != rt.cfg.Heatmap.GridSize {
		e.heat.Reset(rt.cfg.Heatmap.GridSize)
	}
}

func (e *Engine) config() *config.Config {
	if rt := e.rt.Load(); rt != nil {
		return rt.cfg
	}
	return config.DefaultConfig()
}

func (e *Engine) Publisher() *mapstate.Publisher {
	return e.publisher
}

func (e *Engine) Windows() *window.Registry {
	return e.windows
}

func (e *Engine) Heatmaps() *heatmap.Set {
	return e.heat
}

func (e *Engine) Started() time.Time {
	return e.started
}

func (e *Engine) Directory() *directory.Static {
	return e.rt.Load().dir
}

func (e *Engine) Start(ctx context.Context, in <-chan model.DeviceReport) {
	go func() {
		ticker := time.NewTicker(heatmapFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case rep := <-in:
				e.ProcessReport(rep)
			case <-ticker.C:
				e.FlushHeatmaps(e.now().UTC())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessReport runs one report through the pipeline and returns any alerts
// it raised. Duplicates and reports without a camera are dropped.
func (e *Engine) ProcessReport(rep model.DeviceReport) []model.Alert {
	rt := e.rt.Load()
	cfg := rt.cfg
	now := e.now().UTC()

	if rep.CameraID() == "" {
		metrics.RecordDropped("no_camera")
		return nil
	}
	if e.isDuplicate(rep, now, cfg.Engine.DedupeWindow) {
		metrics.RecordDropped("duplicate")
		return nil
	}

	switch {
	case rep.Detection != nil:
		ev := *rep.Detection
		ev.CapturedAt = clampTimestamp(ev.CapturedAt, now, cfg.Engine.MaxClockSkew, cfg.Engine.MaxFutureSkew)
		return e.processDetection(rt, ev, now)
	case rep.Heatmap != nil:
		batch := *rep.Heatmap
		batch.EndTime = clampTimestamp(batch.EndTime, now, cfg.Engine.MaxClockSkew, cfg.Engine.MaxFutureSkew)
		if batch.StartTime.IsZero() || batch.StartTime.After(batch.EndTime) {
			batch.StartTime = batch.EndTime
		}
		e.processHeatmap(cfg, batch, now)
	default:
		metrics.RecordDropped("empty")
	}
	return nil
}

func (e *Engine) processDetection(rt *runtime, ev model.DetectionEvent, now time.Time) []model.Alert {
	cfg := rt.cfg
	calc := rt.calculator(ev.CameraID)
	fr := calc.Process(ev, rt.dir.ZonesForCamera(ev.CameraID))

	e.frames.Update(fr)
	metrics.RecordFrame(fr)

	if points := occupancy.HeatPoints(ev.Objects, calc.Settings().MinConfidence); len(points) > 0 {
		agg := e.heat.GetOrCreate(ev.CameraID)
		agg.Add(ev.CapturedAt, points...)
		e.rotateHeatmap(cfg, ev.CameraID, agg, now)
	}

	e.windows.GetOrCreate(ev.CameraID).Append(model.DeviceSample{
		DeviceID:    ev.CameraID,
		Timestamp:   ev.CapturedAt,
		PersonCount: fr.TotalPeople,
	})

	if e.logger != nil {
		e.logger.Debug("frame processed", "camera_id", fr.CameraID, "people", fr.TotalPeople, "zones", len(fr.Snapshots))
	}
	e.persist("frame", func(ctx context.Context) error { return e.store.SaveFrame(ctx, fr) })

	out := e.zoneAlerts(cfg, fr, now)
	if loc, ok := rt.dir.LocationForDevice(ev.CameraID); ok {
		if alert, ok := e.locationUpdate(cfg, loc, now); ok {
			out = append(out, alert)
		}
	}
	return out
}

func (e *Engine) processHeatmap(cfg *config.Config, batch model.HeatmapBatch, now time.Time) {
	agg := e.heat.GetOrCreate(batch.CameraID)
	accepted := agg.Add(batch.EndTime, batch.Points...)
	metrics.RecordHeatmap(accepted)
	if e.logger != nil && accepted < len(batch.Points) {
		e.logger.Debug("heatmap points skipped", "camera_id", batch.CameraID, "skipped", len(batch.Points)-accepted)
	}
	e.rotateHeatmap(cfg, batch.CameraID, agg, now)
}

func (e *Engine) rotateHeatmap(cfg *config.Config, cameraID string, agg *heatmap.Aggregator, now time.Time) (model.HeatmapSummary, bool) {
	sum, ok := agg.RotateIfElapsed(cameraID, now, cfg.Heatmap.Window, cfg.Heatmap.TopN)
	if !ok {
		return sum, false
	}
	if e.logger != nil {
		e.logger.Info("heatmap window closed", "camera_id", cameraID, "points", sum.TotalPoints, "hottest", sum.HottestZone)
	}
	e.persist("heatmap", func(ctx context.Context) error { return e.store.SaveHeatmapSummary(ctx, sum) })
	return sum, true
}

// FlushHeatmaps closes every camera window older than the configured span,
// including cameras that have gone quiet.
func (e *Engine) FlushHeatmaps(now time.Time) []model.HeatmapSummary {
	cfg := e.config()
	var out []model.HeatmapSummary
	for _, cam := range e.heat.Cameras() {
		agg, ok := e.heat.Get(cam)
		if !ok {
			continue
		}
		if sum, ok := e.rotateHeatmap(cfg, cam, agg, now); ok {
			out = append(out, sum)
		}
	}
	return out
}

func (e *Engine) zoneAlerts(cfg *config.Config, fr model.FrameResult, now time.Time) []model.Alert {
	if cfg.Alerts.ZoneLevel == "" {
		return nil
	}
	threshold := model.ZoneLevel(cfg.Alerts.ZoneLevel).Rank()
	var out []model.Alert
	for _, z := range fr.Snapshots {
		rank := z.Level.Rank()
		if rank < threshold || z.PersonCount == 0 {
			continue
		}
		if !e.cooldown.Allow(zoneKey(fr.CameraID, z.ZoneID), now, cfg.Engine.AlertCooldown) {
			continue
		}
		alert := alerts.New(now, alerts.TypeZoneOvercrowded, severityFor(rank), string(z.Level), z.Density)
		alert.CameraID = fr.CameraID
		alert.ZoneID = z.ZoneID
		if loc, ok := e.rt.Load().dir.LocationForDevice(fr.CameraID); ok {
			alert.LocationID = loc
		}
		alert.Context = map[string]string{
			"zone_name":    z.ZoneName,
			"person_count": strconv.Itoa(z.PersonCount),
			"area":         strconv.FormatFloat(z.Area, 'f', -1, 64),
		}
		e.raise(alert)
		out = append(out, alert)
	}
	return out
}

// locationUpdate recomputes the location after a new sample, persists state
// changes and raises an alert when the level crosses the threshold.
func (e *Engine) locationUpdate(cfg *config.Config, locationID string, now time.Time) (model.Alert, bool) {
	st := e.rollup.Compute(locationID, now)

	e.mu.Lock()
	prev, seen := e.lastLevel[locationID]
	e.lastLevel[locationID] = st.Level
	e.mu.Unlock()
	if !seen || prev != st.Level {
		if e.logger != nil {
			e.logger.Info("location level changed", "location_id", locationID, "from", prev, "to", st.Level, "occupancy", st.CurrentOccupancy)
		}
		e.persist("location", func(ctx context.Context) error { return e.store.SaveLocationState(ctx, st) })
	}

	if cfg.Alerts.LocationLevel == "" || st.IsStale || !st.Monitored {
		return model.Alert{}, false
	}
	rank := st.Level.Rank()
	if rank < model.LocationLevel(cfg.Alerts.LocationLevel).Rank() {
		return model.Alert{}, false
	}
	if !e.cooldown.Allow(locationKey(locationID), now, cfg.Engine.AlertCooldown) {
		return model.Alert{}, false
	}
	alert := alerts.New(now, alerts.TypeLocationOvercrowded, severityFor(rank), string(st.Level), float64(st.CurrentOccupancy))
	alert.LocationID = locationID
	alert.Context = map[string]string{
		"total_cameras":     strconv.Itoa(st.TotalCameras),
		"devices_reporting": strconv.Itoa(st.DevicesReporting),
		"peak_occupancy":    strconv.Itoa(st.PeakOccupancy),
	}
	e.raise(alert)
	return alert, true
}

func (e *Engine) raise(alert model.Alert) {
	e.alerts.Add(alert)
	metrics.RecordAlert(alert.AlertType)
	if e.logger != nil {
		e.logger.Warn("crowd alert",
			"alert_type", alert.AlertType,
			"severity", alert.Severity,
			"location_id", alert.LocationID,
			"camera_id", alert.CameraID,
			"zone_id", alert.ZoneID,
			"value", alert.Value,
		)
	}
	e.persist("alert", func(ctx context.Context) error { return e.store.SaveAlert(ctx, alert) })
}

// persist runs a storage write when storage is configured. Failures are
// logged and never block the pipeline.
func (e *Engine) persist(what string, fn func(ctx context.Context) error) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		metrics.StorageErrors.Inc()
		if e.logger != nil {
			e.logger.Warn("storage write failed", "kind", what, "err", err)
		}
	}
}

// WarmAlerts loads recent alerts from storage into the in-memory ring.
func (e *Engine) WarmAlerts(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	list, err := e.store.LoadAlerts(ctx, e.config().Alerts.StoreLimit)
	if err != nil {
		return err
	}
	for _, a := range list {
		e.alerts.Add(a)
	}
	return nil
}

// Reset drops all runtime state: samples, heatmap windows, snapshots,
// alert cooldowns and the dedupe cache.
func (e *Engine) Reset() {
	cfg := e.config()
	e.windows.Reset(cfg.Crowd.Horizon)
	e.heat.Reset(cfg.Heatmap.GridSize)
	e.frames.Clear()
	e.cooldown.Reset()
	e.dedupe.Reset()
	metrics.ResetZoneLevels()
	e.mu.Lock()
	e.lastLevel = make(map[string]model.LocationLevel)
	e.mu.Unlock()
}

func (e *Engine) isDuplicate(rep model.DeviceReport, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	key := fingerprint(rep)
	if key == "" {
		return false
	}
	return e.dedupe.Seen(key, now, ttl)
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}
