package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"crowdpulse/internal/config"
	"crowdpulse/internal/metrics"
	"crowdpulse/internal/model"
)

// StartTCPStream accepts newline delimited JSON reports, one per line.
func StartTCPStream(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	serveTCP(ctx, ln, parser, out, logger)
}

func serveTCP(ctx context.Context, ln net.Listener, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, parser, out, logger)
		}
	}()
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, parser *Parser, out chan<- model.DeviceReport, logger *slog.Logger) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), maxBodyBytes)
	for scanner.Scan() {
		reports, err := parser.ParseLine(scanner.Text(), "tcp_stream")
		if err != nil {
			metrics.RecordIngestError("tcp_stream")
			if logger != nil {
				logger.Warn("tcp stream payload rejected", "remote", conn.RemoteAddr().String(), "err", err)
			}
			continue
		}
		forward(ctx, out, reports, logger)
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
