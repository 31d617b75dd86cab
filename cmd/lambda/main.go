package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"mail-pilot/handler"
	"mail-pilot/internal/app"
	"mail-pilot/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg.LogFormat = "json"
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// ---- Clients and service ----
	svc, err := app.BuildService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create send service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(svc)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.WithLogger(logger).Handle)
}
