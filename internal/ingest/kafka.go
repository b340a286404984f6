package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"crowdpulse/internal/config"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
)

// StartKafka consumes camera reports from a topic. Each message value is one
// JSON report or an array of them; the "kind" header, if present, names the
// report kind for payloads that omit it.
func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			handleKafkaMessage(ctx, m, parser, out, logger)
		}
	}()
}

func handleKafkaMessage(ctx context.Context, m kafka.Message, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) int {
	reports, failed, err := parser.Parse(m.Value, "kafka", messageKind(m))
	if err != nil || failed > 0 {
		metrics.RecordIngestError("kafka")
		if logger != nil {
			logger.Warn("kafka payload rejected", "partition", m.Partition, "offset", m.Offset, "failed", failed, "err", err)
		}
	}
	return forward(ctx, out, reports, logger)
}

func messageKind(m kafka.Message) model.ReportKind {
	for _, h := range m.Headers {
		if h.Key == "kind" {
			return model.ReportKind(h.Value)
		}
	}
	return ""
}
