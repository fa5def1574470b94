package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/lucianodigital2b/clevernote-sub002/internal/app"
	"github.com/lucianodigital2b/clevernote-sub002/internal/async"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/ingest"
	"github.com/lucianodigital2b/clevernote-sub002/internal/pipeline"
	"github.com/lucianodigital2b/clevernote-sub002/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := server.DBHealth(a.DB, 5*time.Second, logger)(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	queue := async.NewProcessorQueue(a.Processor, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
		async.WithMaxAttempts(cfg.Queue.MaxAttempts),
		async.WithBackoff(cfg.Queue.Backoff...),
		async.WithOnExhausted(async.FailExhausted(a.Notes, a.Artifacts, pipeline.FriendlyReason, logger)),
		async.WithOnInterrupted(async.ResetInterrupted(a.Notes, a.Artifacts, logger)),
	)

	stats, err := queue.Recover(ctx, a.Notes, a.Artifacts, cfg.Queue.StaleAfter)
	if err != nil {
		logger.Warn("recovery incomplete", "error", err)
	}
	logger.Info("recovered jobs", "notes", stats.Notes, "artifacts", stats.Artifacts)
	go queue.Sweep(ctx, a.Notes, a.Artifacts, cfg.Queue.StaleAfter, cfg.Queue.SweepEvery)

	ing := a.Ingestor(queue)
	svc := a.NoteService(queue, ing)

	if len(cfg.Ingest.WatchDirs) > 0 {
		go func() {
			err := ingest.Watch(ctx, ing, ingest.WatchConfig{
				Roots:       cfg.Ingest.WatchDirs,
				InitialScan: true,
				SkipHidden:  true,
				Debounce:    cfg.Ingest.Debounce,
				Logger:      logger,
			}, ingest.Options{})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	// gRPC
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(server.UnaryInterceptor(logger)))
	health := server.Register(grpcServer, server.NewGRPCServer(svc, logger))
	reflection.Register(grpcServer)

	go func() {
		logger.Info("gRPC listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewHTTPHandler(svc, server.DBHealth(a.DB, 2*time.Second, logger), cfg.Server.CORSOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	health.Shutdown()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	queue.Shutdown(sctx)
	logger.Info("stopped")
}
