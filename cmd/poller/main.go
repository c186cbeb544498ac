package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Mister-97/mappa-pro/internal/app"
	"github.com/Mister-97/mappa-pro/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel, "json")

	application, err := app.NewApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}

	// One reconciliation tick per scheduled event.
	lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) error {
		res := application.Poller.Tick(ctx)
		logger.Info("poll tick finished",
			"event_id", ev.ID,
			"accounts", res.Accounts,
			"synced", res.Synced,
			"busy", res.Busy,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
		return nil
	})
}
