package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"crowdpulse/internal/config"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
)

// StartFileTail follows files that an edge gateway appends NDJSON reports to.
func StartFileTail(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, parser, out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) {
	var (
		file    *os.File
		reader  *bufio.Reader
		offset  int64
		partial string
	)
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()
	for ctx.Err() == nil {
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file, offset, partial = f, 0, ""
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// Only the first open skips history; a rotated file is read whole.
				startAtEnd = false
			}
			reader = bufio.NewReader(file)
		}

		chunk, err := reader.ReadString('\n')
		offset += int64(len(chunk))
		if err == nil {
			line := partial + chunk
			partial = ""
			handleTailLine(ctx, line, parser, out, logger)
			continue
		}
		if err != io.EOF {
			if logger != nil {
				logger.Warn("tail read error", "path", path, "err", err)
			}
			_ = file.Close()
			file = nil
			continue
		}
		partial += chunk
		if !BackoffSleep(ctx, 200*time.Millisecond) {
			return
		}
		if info, statErr := os.Stat(path); statErr == nil && info.Size() < offset {
			_ = file.Close()
			file = nil
		}
	}
}

func handleTailLine(ctx context.Context, line string, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) {
	reports, err := parser.ParseLine(line, "file_tail")
	if err != nil {
		metrics.RecordIngestError("file_tail")
		if logger != nil {
			logger.Warn("tail payload rejected", "err", err)
		}
		return
	}
	forward(ctx, out, reports, logger)
}
