package main

import (
	"context"
	"time"

	"saldo/internal/cli"
	"saldo/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentRecurring)
	logger.Info("Starting recurring-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	res := cli.InitBackend(context.Background(), logger, cfg)
	processor := res.Backend.Recurring

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	defer func() {
		cli.WaitForShutdown(ctx, done)
		if err := res.Cleanup(); err != nil {
			logger.Error("Cleanup failed", log.FieldError, err)
		}
	}()

	interval := cfg.RecurringInterval
	logger.Info("Recurring processor configured", "interval", interval, "backend", cfg.DataBackend)

	logger.Info("Running initial recurring processing...")
	if count, err := processor.ProcessDue(ctx, time.Now()); err != nil {
		logger.Error("Initial processing failed", log.FieldError, err)
	} else {
		logger.Info("Initial processing complete", "transactions_created", count)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count, err := processor.ProcessDue(ctx, now)
			if err != nil {
				logger.Error("Periodic processing failed", log.FieldError, err)
				continue
			}
			logger.Info("Periodic processing complete",
				"transactions_created", count,
				"next_check", now.Add(interval).Format("15:04:05"))
		}
	}
}
