package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crowdpulse/internal/alerts"
	"crowdpulse/internal/config"
	"crowdpulse/internal/mapstate"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
)

type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	Publisher() *mapstate.Publisher
	Started() time.Time
}

type Server struct {
	cfg     *config.Manager
	frames  *metrics.Store
	alerts  *alerts.Store
	engine  EngineControl
	logger  *slog.Logger
	version string
	now     func() time.Time
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	Uptime     string       `json:"uptime"`
	ConfigPath string       `json:"config_path"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
	Crowd      crowdStatus  `json:"crowd"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type crowdStatus struct {
	Horizon   string `json:"horizon"`
	ReadMode  string `json:"read_mode"`
	Locations int    `json:"locations"`
	Cameras   int    `json:"cameras"`
	Storage   string `json:"storage"`
}

func NewServer(cfg *config.Manager, frames *metrics.Store, alertsStore *alerts.Store, engine EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		frames:  frames,
		alerts:  alertsStore,
		engine:  engine,
		logger:  logger,
		version: version,
		now:     time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/locations", s.handleLocations)
	r.Get("/locations/{id}", s.handleLocation)
	r.Get("/cameras", s.handleCameras)
	r.Get("/cameras/{id}/zones", s.handleCameraZones)
	r.Get("/cameras/{id}/heatmap", s.handleCameraHeatmap)
	r.Get("/alerts", s.handleAlerts)
	r.Post("/admin/clear", s.handleClear)
	r.Post("/admin/restart", s.handleRestart)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func Start(ctx context.Context, cfg *config.Manager, frames *metrics.Store, alertsStore *alerts.Store, engine EngineControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, frames, alertsStore, engine, logger, version)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	now := s.now().UTC()
	storage := "disabled"
	if cfg.Storage.Enabled {
		storage = cfg.Storage.Driver
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       now.Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Crowd: crowdStatus{
			Horizon:   cfg.Crowd.Horizon.String(),
			ReadMode:  cfg.Crowd.ReadMode,
			Locations: len(cfg.Directory.Locations),
			Cameras:   len(cfg.Directory.Cameras),
			Storage:   storage,
		},
	}
	if s.engine != nil {
		resp.Uptime = now.Sub(s.engine.Started()).Truncate(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLocations serves the map view. Without ids every configured
// location is returned; unknown ids come back as unmonitored.
func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	now := s.now().UTC()
	ids := splitIDs(r.URL.Query().Get("ids"))
	var entries []model.MapEntry
	if len(ids) == 0 {
		entries = s.engine.Publisher().QueryAll(now)
	} else {
		entries = s.engine.Publisher().Query(ids, now)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"locations": entries,
		"count":     len(entries),
	})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	st := s.engine.Publisher().States([]string{id}, s.now().UTC())[0]
	writeJSON(w, http.StatusOK, map[string]any{
		"state": st,
		"map":   mapstate.Entry(st),
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, _ *http.Request) {
	cams := s.frames.Cameras()
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": cams,
		"count":   len(cams),
	})
}

func (s *Server) handleCameraZones(w http.ResponseWriter, r *http.Request) {
	fr, ok := s.frames.Latest(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no frames for camera")
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

func (s *Server) handleCameraHeatmap(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	view, ok := s.engine.Publisher().CameraHeatmap(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no data for camera")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	var list []model.Alert
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		list = s.alerts.Since(ts)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	case q.Get("location") != "":
		list = s.alerts.ForLocation(q.Get("location"), limit)
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleClear drops in-memory state. Targets: all, alerts, frames, state.
// An empty body means all; a body that is not JSON is rejected.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.engine != nil {
			s.engine.Reset()
		}
		s.frames.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "frames":
		s.frames.Clear()
	case "state":
		if s.engine != nil {
			s.engine.Reset()
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown target")
		return
	}
	if s.logger != nil {
		s.logger.Info("state cleared", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

// handleRestart rereads the configuration file and restarts the engine with
// empty state. A broken file leaves the running configuration in place.
func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.cfg.Reload()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("config reload failed", "err", err)
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.engine != nil {
		s.engine.UpdateConfig(cfg)
		s.engine.Reset()
	}
	s.alerts.Clear()
	if s.logger != nil {
		s.logger.Info("engine restarted", "config_path", s.cfg.Path())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
