// Package main implements the junctioncast dashboard service.
// The dashboard loads historical junction traffic, trains (or restores) a
// regressor once, and serves predictions and chart data over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/junctioncast/cmd/dashboard/config"
	"github.com/HatiCode/junctioncast/cmd/dashboard/logger"
	"github.com/HatiCode/junctioncast/cmd/dashboard/metrics"
	"github.com/HatiCode/junctioncast/cmd/dashboard/models"
	"github.com/HatiCode/junctioncast/cmd/dashboard/router"
	"github.com/HatiCode/junctioncast/cmd/dashboard/store"
	"github.com/HatiCode/junctioncast/pkg/httpx"
	"github.com/HatiCode/junctioncast/pkg/rpc"
)

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting junctioncast dashboard",
		"version", "v0.1.0",
		"data", cfg.DataFile,
		"model", cfg.Model,
		"storage", cfg.Storage,
	)

	m := metrics.New(filepath.Base(cfg.DataFile))
	model := models.New(cfg, logger)
	artifacts := store.New(cfg, logger)
	defer func() {
		if closer, ok := artifacts.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close model cache", "error", err)
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	d := New(cfg.DataFile, model, artifacts, cfg.Policy(), m, logger)
	if err := d.Bootstrap(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("startup interrupted")
			return
		}
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	mux := router.SetupRoutes(d.Deps(cfg.TrendWindow), logger)
	handler := httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(rpc.UnaryLoggingInterceptor(logger)))
		rpc.Register(grpcServer, rpc.NewServer(d.Service(), logger))

		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(rpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

		reflection.Register(grpcServer)

		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			logger.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}

		go func() {
			logger.Info("grpc server listening", "address", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	stop()

	if grpcServer != nil {
		logger.Info("shutting down grpc server")
		grpcServer.GracefulStop()
	}

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("http server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
