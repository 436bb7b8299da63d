package main

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/cli"
	"saldo/internal/log"
	"saldo/internal/worker"
)

const cacheSweepInterval = time.Minute

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting saldo-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	res := cli.InitBackend(context.Background(), logger, cfg)
	b := res.Backend

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	defer func() {
		if ctx.Err() != nil {
			cli.WaitForShutdown(ctx, done)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Cleanup failed", log.FieldError, err)
		}
	}()

	w := worker.NewSyncWorker(b.Store, b.Mirror, b.Budgets, logger)

	// Recover from anything missed while the worker was down.
	if err := w.ReconcileAll(ctx); err != nil {
		logger.Error("Startup reconcile failed", log.FieldError, err)
	}
	if b.Mirror != nil {
		if _, err := w.MirrorAll(ctx); err != nil {
			logger.Error("Startup mirror resync failed", log.FieldError, err)
		}
	} else {
		logger.Info("Google Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.RunReconcileLoop(gctx, cfg.ReconcileInterval)
	})
	g.Go(func() error {
		b.Caches.Run(gctx, cacheSweepInterval)
		return nil
	})
	if b.AMQP != nil {
		g.Go(func() error {
			return b.AMQP.Consume(gctx, w)
		})
	} else {
		logger.Info("AMQP disabled - ledger events and reconcile requests will not be consumed")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", log.FieldError, err)
	}
}
