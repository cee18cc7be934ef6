package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"playground-engine/internal/config"
	"playground-engine/internal/logging"
	"playground-engine/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("server error", zap.Error(runErr))
	}
}
