package services

import (
	"context"
	"fmt"
	"time"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/store"
)

// RecurringProcessor materializes due occurrences of recurring ledger
// records. Each occurrence goes through the Coordinator like any other
// create, so funds rules and budget accumulation apply.
type RecurringProcessor struct {
	store       store.Reader
	coordinator *Coordinator
	logger      *log.Logger
}

// NewRecurringProcessor creates a new recurring transaction processor
func NewRecurringProcessor(r store.Reader, coordinator *Coordinator, logger *log.Logger) *RecurringProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	return &RecurringProcessor{
		store:       r,
		coordinator: coordinator,
		logger:      logger.WithComponent(log.ComponentRecurring),
	}
}

// ProcessDue creates every occurrence due on or before the day of now and
// returns how many were created. A failing template is logged and left for
// the next run.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil || p.coordinator == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	today := core.DateOf(now)
	templates, err := p.store.ListDueRecurring(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list due recurring transactions: %w", err)
	}

	p.logger.InfoContext(ctx, "Processing recurring transactions",
		"due", len(templates), "processing_date", today.String())

	created := 0
	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		n, err := p.materialize(ctx, t, today)
		created += n
		if err != nil {
			p.logger.ErrorContext(ctx, "Recurring template failed",
				log.FieldTransactionID, t.ID, "created", n, log.FieldError, err)
		}
	}

	p.logger.InfoContext(ctx, "Recurring processing complete",
		"created", created, "templates", len(templates))
	return created, nil
}

// materialize catches one template up to today. Each occurrence and the
// template advance commit together, so a failure leaves the template
// pointing at the first occurrence not yet booked.
func (p *RecurringProcessor) materialize(ctx context.Context, t core.Transaction, today core.Date) (int, error) {
	r := *t.Recurrence
	created := 0

	for !r.Exhausted() && !r.NextDate.After(today) {
		next := r
		next.Generated++
		var err error
		if next.NextDate, err = NextOccurrence(r.Frequency, r.NextDate, t.Date); err != nil {
			return created, err
		}
		var advance *core.Recurrence
		if !next.Exhausted() {
			advance = &next
		}

		occ, err := p.coordinator.CreateOccurrence(ctx, t.ID, core.NewTransaction{
			AccountID:     t.AccountID,
			Amount:        t.Amount,
			Kind:          t.Kind,
			Description:   t.Description,
			CategoryID:    t.CategoryID,
			Date:          r.NextDate,
			PaymentMethod: t.PaymentMethod,
		}, advance)
		if err != nil {
			return created, fmt.Errorf("create occurrence for %s: %w", r.NextDate, err)
		}
		created++
		p.logger.InfoContext(ctx, "Created transaction from recurring template",
			"template_id", t.ID, log.FieldTransactionID, occ.ID,
			log.FieldAmountCents, occ.Amount.Cents, "frequency", string(r.Frequency))

		r = next
		if advance == nil {
			p.logger.InfoContext(ctx, "Recurring template finished",
				"template_id", t.ID, "generated", r.Generated)
			return created, nil
		}
	}

	// Templates stored already exhausted have no occurrence left to carry
	// the clear.
	if r.Exhausted() {
		if _, err := p.coordinator.UpdateTransaction(ctx, t.ID, core.TransactionPatch{ClearRecurrence: true}); err != nil {
			return created, fmt.Errorf("finish template: %w", err)
		}
		p.logger.InfoContext(ctx, "Recurring template finished",
			"template_id", t.ID, "generated", r.Generated)
	}
	return created, nil
}
