package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/sheets"
	"saldo/internal/store"
)

// SyncWorker answers queued messages: ledger events update the spreadsheet
// mirror, reconcile requests rebuild the budgets a failed best-effort update
// may have left behind.
type SyncWorker struct {
	store   store.Reader
	mirror  sheets.LedgerMirror
	budgets *services.BudgetService
	logger  *log.Logger
}

// NewSyncWorker creates a worker. mirror may be nil, in which case ledger
// events are acknowledged without effect.
func NewSyncWorker(r store.Reader, mirror sheets.LedgerMirror, budgets *services.BudgetService, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SyncWorker{
		store:   r,
		mirror:  mirror,
		budgets: budgets,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleLedgerEvent mirrors the current state of the record named by e.
// The record is re-read from the store, so out-of-order events converge on
// the latest committed version.
func (w *SyncWorker) HandleLedgerEvent(ctx context.Context, e core.LedgerEvent) error {
	if w.mirror == nil {
		return nil
	}

	if e.Type == core.EventTransactionDeleted {
		return w.remove(ctx, e.TransactionID)
	}

	t, err := w.store.GetTransaction(ctx, e.TransactionID)
	if errors.Is(err, core.ErrNotFound) {
		// deleted after the event was published
		return w.remove(ctx, e.TransactionID)
	}
	if err != nil {
		return fmt.Errorf("get transaction %s: %w", e.TransactionID, err)
	}

	ref, err := w.mirror.UpsertTransaction(ctx, t)
	if err != nil {
		return fmt.Errorf("mirror transaction %s: %w", t.ID, err)
	}
	w.logger.InfoContext(ctx, "Mirrored transaction",
		log.FieldTransactionID, t.ID, log.FieldEventType, string(e.Type),
		log.FieldSheetsRef, ref, "version", t.Version)
	return nil
}

func (w *SyncWorker) remove(ctx context.Context, id string) error {
	if err := w.mirror.RemoveTransaction(ctx, id); err != nil {
		return fmt.Errorf("remove mirrored transaction %s: %w", id, err)
	}
	w.logger.InfoContext(ctx, "Removed mirrored transaction", log.FieldTransactionID, id)
	return nil
}

// HandleReconcile rebuilds the budgets covering r from the ledger.
func (w *SyncWorker) HandleReconcile(ctx context.Context, r core.ReconcileRequest) error {
	n, err := w.budgets.RecalculateCovering(ctx, r.UserID, r.CategoryID, r.Date)
	if err != nil {
		return fmt.Errorf("reconcile %s/%s: %w", r.UserID, r.CategoryID, err)
	}
	w.logger.InfoContext(ctx, "Reconciled budgets",
		log.FieldUserID, r.UserID, log.FieldCategoryID, r.CategoryID,
		log.FieldDate, r.Date.String(), "budgets", n, "reason", r.Reason)
	return nil
}

// MirrorAll rewrites every ledger record into the mirror and drops mirrored
// rows whose record no longer exists. It recovers from events lost while the
// worker or the broker was down.
func (w *SyncWorker) MirrorAll(ctx context.Context) (int, error) {
	if w.mirror == nil {
		return 0, nil
	}

	all, err := w.store.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}

	synced, failed := 0, 0
	live := make(map[string]struct{}, len(all))
	for _, t := range all {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		live[t.ID] = struct{}{}
		if _, err := w.mirror.UpsertTransaction(ctx, t); err != nil {
			w.logger.ErrorContext(ctx, "Failed to mirror transaction during resync",
				log.FieldTransactionID, t.ID, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}

	removed := 0
	if lister, ok := w.mirror.(sheets.LedgerLister); ok {
		rows, err := lister.ListRows(ctx)
		if err != nil {
			return synced, fmt.Errorf("list mirrored rows: %w", err)
		}
		for _, row := range rows {
			if _, ok := live[row.ID]; ok {
				continue
			}
			if err := w.mirror.RemoveTransaction(ctx, row.ID); err != nil {
				w.logger.ErrorContext(ctx, "Failed to drop orphaned row",
					log.FieldTransactionID, row.ID, log.FieldError, err)
				continue
			}
			removed++
		}
	}

	w.logger.InfoContext(ctx, "Mirror resync completed",
		"total", len(all), "synced", synced, "errors", failed, "removed", removed)
	return synced, nil
}

// ReconcileAll rebuilds every active budget.
func (w *SyncWorker) ReconcileAll(ctx context.Context) error {
	start := time.Now()
	n, err := w.budgets.RecalculateAll(ctx)
	if err != nil {
		return fmt.Errorf("recalculate budgets: %w", err)
	}
	w.logger.InfoContext(ctx, "Budgets reconciled",
		"budgets", n, log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// RunReconcileLoop calls ReconcileAll every interval until ctx is done.
func (w *SyncWorker) RunReconcileLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ReconcileAll(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Periodic reconcile failed", log.FieldError, err)
			}
		}
	}
}
