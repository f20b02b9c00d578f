package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/toricodesthings/document-extraction-service/internal/config"
	"github.com/toricodesthings/document-extraction-service/internal/pipeline"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	engine, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build extraction pipeline", zap.Error(err))
	}

	s := newServer(cfg, engine, logger)

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		logger.Fatal("listen failed", zap.String("port", cfg.Port), zap.Error(err))
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go s.cleanupRateLimiters(ctx)

	if strings.TrimSpace(cfg.InternalSharedSecret) == "" {
		logger.Warn("INTERNAL_SHARED_SECRET not set, endpoints are unauthenticated")
	}

	logger.Info("docextract listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int64("maxConcurrent", cfg.MaxConcurrentRequests),
		zap.Int("maxConnections", cfg.MaxConnections),
		zap.String("ocrProvider", cfg.OCRProvider),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

func (s *server) cleanupRateLimiters(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		snap := s.metrics.snapshot()
		s.logger.Info("stats",
			zap.Int64("active", snap.active),
			zap.Int64("total", snap.total),
			zap.Int("goroutines", runtime.NumGoroutine()),
			zap.Uint64("memMB", m.Alloc/(1<<20)),
		)

		s.resetLimiters()
	}
}
