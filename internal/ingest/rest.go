package ingest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"crowdpulse/internal/config"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
)

const maxBodyBytes = 2 << 20

type RESTServer struct {
	parser *Parser
	out    chan<- model.DeviceReport
	logger *slog.Logger
}

func NewRESTHandler(parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) http.Handler {
	s := &RESTServer{parser: parser, out: out, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/events", s.handle(""))
	r.Post("/detections", s.handle(model.ReportDetection))
	r.Post("/heatmap", s.handle(model.ReportHeatmap))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func StartREST(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTHandler(parser, out, logger),
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handle(kind model.ReportKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
			return
		}
		reports, failed, err := s.parser.Parse(body, "rest", kind)
		if err != nil || (len(reports) == 0 && failed == 0) {
			metrics.RecordIngestError("rest")
			if s.logger != nil && err != nil {
				s.logger.Warn("rest payload rejected", "err", err)
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		if failed > 0 {
			metrics.RecordIngestError("rest")
		}
		accepted := forward(r.Context(), s.out, reports, s.logger)
		writeJSON(w, http.StatusOK, map[string]int{
			"accepted": accepted,
			"failed":   failed,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
