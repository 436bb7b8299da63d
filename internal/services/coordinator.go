package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/store"
)

const (
	// DefaultCreditLimit bounds how far below zero a credit card may go.
	DefaultCreditLimit = 500000
	// DefaultConflictRetries bounds re-runs of a unit after version conflicts.
	DefaultConflictRetries = 5
	// MaxTransferAmount is the largest single transfer, in cents.
	MaxTransferAmount = 100000000
)

// EventPublisher announces committed mutations. Publishing is best-effort:
// failures are logged and never undo a commit.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, e core.LedgerEvent) error
	PublishReconcileRequest(ctx context.Context, r core.ReconcileRequest) error
}

// CoordinatorOptions tunes a Coordinator. Zero values pick defaults.
type CoordinatorOptions struct {
	CreditLimit     core.Money
	ConflictRetries int
	Publisher       EventPublisher
	Logger          *log.Logger
	// OnCommit runs once per affected user after every successful commit.
	OnCommit func(ctx context.Context, userID string)
	Now      func() time.Time
}

// Coordinator is the only writer of ledger records and account balances.
// Every mutating method runs as one atomic unit against the store.
type Coordinator struct {
	store       store.Store
	creditLimit core.Money
	retries     int
	publisher   EventPublisher
	logger      *log.Logger
	onCommit    func(ctx context.Context, userID string)
	now         func() time.Time
}

// TransferResult carries both accounts as they stand after a transfer.
type TransferResult struct {
	From     core.Account
	To       core.Account
	Transfer core.Transfer
}

func NewCoordinator(s store.Store, opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		store:       s,
		creditLimit: opts.CreditLimit,
		retries:     opts.ConflictRetries,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		onCommit:    opts.OnCommit,
		now:         opts.Now,
	}
	if c.creditLimit.IsZero() {
		c.creditLimit = core.Cents(DefaultCreditLimit)
	}
	if c.retries <= 0 {
		c.retries = DefaultConflictRetries
	}
	if c.logger == nil {
		c.logger = log.Discard()
	}
	c.logger = c.logger.WithComponent(log.ComponentCoordinator)
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// CreateTransaction validates in, inserts the record and moves the account
// balance in one unit. Budget accumulation follows after the commit.
func (c *Coordinator) CreateTransaction(ctx context.Context, in core.NewTransaction) (core.Transaction, error) {
	rec, err := c.newRecord(in)
	if err != nil {
		return core.Transaction{}, err
	}

	var created core.Transaction
	err = c.runUnit(ctx, log.OpCreate, func(tx store.Tx) error {
		created, err = c.insertRecord(ctx, tx, rec)
		return err
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Transaction create rejected",
			log.NewFields().WithOperation(log.OpCreate).WithTransaction(rec).WithError(err).ToSlice()...)
		return core.Transaction{}, err
	}

	c.committed(ctx, created.UserID)
	if created.CountsTowardBudget() {
		c.accumulate(ctx, created, created.Amount, log.OpCreate)
	}
	c.publishLedgerEvent(ctx, core.EventTransactionCreated, created)

	c.logger.InfoContext(ctx, "Transaction created",
		log.NewFields().WithOperation(log.OpCreate).WithTransaction(created).ToSlice()...)
	return created, nil
}

// CreateOccurrence books the occurrence in of the recurring record
// templateID and replaces the template's recurrence with next, all in one
// unit. A nil next ends the recurrence. The unit is rejected when the
// template no longer expects an occurrence on in.Date, so a repeated run
// never books the same occurrence twice.
func (c *Coordinator) CreateOccurrence(ctx context.Context, templateID string, in core.NewTransaction, next *core.Recurrence) (core.Transaction, error) {
	in.Recurrence = nil
	rec, err := c.newRecord(in)
	if err != nil {
		return core.Transaction{}, err
	}
	patch := core.TransactionPatch{ClearRecurrence: next == nil}
	if next != nil {
		r := *next
		patch.Recurrence = &r
	}

	var created, template core.Transaction
	err = c.runUnit(ctx, log.OpRecurring, func(tx store.Tx) error {
		tmpl, err := tx.GetTransaction(ctx, templateID)
		if err != nil {
			return err
		}
		if tmpl.Recurrence == nil || !tmpl.Recurrence.NextDate.Equal(rec.Date) {
			return core.NewError(core.KindInvalidInput, "recurrence.nextDate",
				"no occurrence of "+templateID+" is due on "+rec.Date.String())
		}
		if err := patch.Apply(tmpl).Validate(); err != nil {
			return err
		}

		if created, err = c.insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		template, err = tx.PatchTransaction(ctx, templateID, patch)
		return err
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Recurring occurrence rejected",
			log.NewFields().WithOperation(log.OpRecurring).WithTransaction(rec).WithError(err).ToSlice()...)
		return core.Transaction{}, err
	}

	c.committed(ctx, created.UserID)
	if created.CountsTowardBudget() {
		c.accumulate(ctx, created, created.Amount, log.OpRecurring)
	}
	c.publishLedgerEvent(ctx, core.EventTransactionCreated, created)
	c.publishLedgerEvent(ctx, core.EventTransactionUpdated, template)
	return created, nil
}

// UpdateTransaction applies p to the record. Balance and budget
// contributions of the original are reversed and the patched ones applied,
// all inside the same unit. An empty patch returns the stored record as is.
func (c *Coordinator) UpdateTransaction(ctx context.Context, id string, p core.TransactionPatch) (core.Transaction, error) {
	if p.IsEmpty() {
		return c.store.GetTransaction(ctx, id)
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return core.Transaction{}, err
		}
	}

	var updated core.Transaction
	err := c.runUnit(ctx, log.OpUpdate, func(tx store.Tx) error {
		orig, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}

		patch := p
		if patch.Recurrence != nil {
			r := *patch.Recurrence
			date := orig.Date
			if patch.Date != nil {
				date = *patch.Date
			}
			if r.NextDate.IsZero() {
				if r.NextDate, err = NextOccurrence(r.Frequency, date, date); err != nil {
					return core.NewError(core.KindInvalidInput, "recurrence.frequency", "invalid repetition type")
				}
			}
			patch.Recurrence = &r
		}

		merged := patch.Apply(orig)
		if err := merged.Validate(); err != nil {
			return err
		}

		if patch.TouchesBalance() {
			if delta := merged.Signed().Sub(orig.Signed()); !delta.IsZero() {
				acct, err := tx.GetAccount(ctx, orig.AccountID)
				if err != nil {
					return err
				}
				if err := c.checkFunds(acct, acct.Balance.Sub(orig.Signed()), merged); err != nil {
					return err
				}
				if _, err := tx.AdjustBalance(ctx, acct.ID, delta, acct.Version); err != nil {
					return err
				}
			}
		}

		if patch.TouchesBudget() {
			if orig.CountsTowardBudget() {
				if err := applyBudgetDelta(ctx, tx, orig.UserID, orig.CategoryID, orig.Date, orig.Amount.Neg()); err != nil {
					return err
				}
			}
			if merged.CountsTowardBudget() {
				if err := applyBudgetDelta(ctx, tx, merged.UserID, merged.CategoryID, merged.Date, merged.Amount); err != nil {
					return err
				}
			}
		}

		updated, err = tx.PatchTransaction(ctx, id, patch)
		return err
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Transaction update rejected",
			log.FieldTransactionID, id, log.FieldOperation, log.OpUpdate, log.FieldError, err)
		return core.Transaction{}, err
	}

	c.committed(ctx, updated.UserID)
	c.publishLedgerEvent(ctx, core.EventTransactionUpdated, updated)

	c.logger.InfoContext(ctx, "Transaction updated",
		log.NewFields().WithOperation(log.OpUpdate).WithTransaction(updated).ToSlice()...)
	return updated, nil
}

// DeleteTransaction removes the record and reverses its balance effect in
// one unit. The budget reversal follows after the commit.
func (c *Coordinator) DeleteTransaction(ctx context.Context, id string) (core.Transaction, error) {
	var deleted core.Transaction
	err := c.runUnit(ctx, log.OpDelete, func(tx store.Tx) error {
		orig, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		acct, err := tx.GetAccount(ctx, orig.AccountID)
		if err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, acct.ID, orig.Signed().Neg(), acct.Version); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		deleted = orig
		return nil
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Transaction delete rejected",
			log.FieldTransactionID, id, log.FieldOperation, log.OpDelete, log.FieldError, err)
		return core.Transaction{}, err
	}

	c.committed(ctx, deleted.UserID)
	if deleted.CountsTowardBudget() {
		c.accumulate(ctx, deleted, deleted.Amount.Neg(), log.OpDelete)
	}
	c.publishLedgerEvent(ctx, core.EventTransactionDeleted, deleted)

	c.logger.InfoContext(ctx, "Transaction deleted",
		log.NewFields().WithOperation(log.OpDelete).WithTransaction(deleted).ToSlice()...)
	return deleted, nil
}

// TransferBetweenAccounts moves amount from one account to another. No
// ledger record is written; the movement goes to the transfer journal.
func (c *Coordinator) TransferBetweenAccounts(ctx context.Context, fromID, toID string, amount core.Money) (TransferResult, error) {
	if fromID == toID {
		return TransferResult{}, core.NewError(core.KindInvalidAccountPair, "toAccountId", "cannot transfer to the same account")
	}
	if err := amount.Validate(); err != nil {
		return TransferResult{}, err
	}
	if core.Cents(MaxTransferAmount).Less(amount) {
		return TransferResult{}, core.NewError(core.KindTransferLimitExceeded, "amount", "transfer exceeds 1000000.00")
	}

	var res TransferResult
	err := c.runUnit(ctx, log.OpTransfer, func(tx store.Tx) error {
		from, err := tx.GetAccount(ctx, fromID)
		if err != nil {
			return err
		}
		to, err := tx.GetAccount(ctx, toID)
		if err != nil {
			return err
		}
		if from.Balance.Less(amount) {
			return core.NewError(core.KindInsufficientFunds, "amount", "insufficient balance")
		}

		if res.From, err = tx.AdjustBalance(ctx, from.ID, amount.Neg(), from.Version); err != nil {
			return err
		}
		if res.To, err = tx.AdjustBalance(ctx, to.ID, amount, to.Version); err != nil {
			return err
		}
		res.Transfer = core.Transfer{
			ID:            store.NewID(),
			UserID:        from.UserID,
			FromAccountID: from.ID,
			ToAccountID:   to.ID,
			Amount:        amount,
			CreatedAt:     c.now(),
		}
		return tx.InsertTransfer(ctx, res.Transfer)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Transfer rejected",
			log.FieldOperation, log.OpTransfer, "from_account_id", fromID, "to_account_id", toID,
			log.FieldAmountCents, amount.Cents, log.FieldError, err)
		return TransferResult{}, err
	}

	c.committed(ctx, res.From.UserID)
	if res.To.UserID != res.From.UserID {
		c.committed(ctx, res.To.UserID)
	}

	c.logger.InfoContext(ctx, "Transfer completed",
		log.FieldOperation, log.OpTransfer, "from_account_id", fromID, "to_account_id", toID,
		log.FieldAmountCents, amount.Cents)
	return res, nil
}

// newRecord validates caller input and fills defaults. It never touches the
// store.
func (c *Coordinator) newRecord(in core.NewTransaction) (core.Transaction, error) {
	date := in.Date
	if date.IsZero() {
		date = core.DateOf(c.now())
	}
	pay := in.PaymentMethod
	if pay == "" {
		pay = core.PayOther
	}

	t := core.Transaction{
		ID:            store.NewID(),
		AccountID:     in.AccountID,
		Amount:        in.Amount,
		Kind:          in.Kind,
		CategoryID:    in.CategoryID,
		Description:   in.Description,
		Date:          date,
		PaymentMethod: pay,
		Version:       1,
	}
	if in.Recurrence != nil {
		r := *in.Recurrence
		r.Generated = 0
		if r.NextDate.IsZero() {
			next, err := NextOccurrence(r.Frequency, date, date)
			if err != nil {
				return core.Transaction{}, core.NewError(core.KindInvalidInput, "recurrence.frequency", "invalid repetition type")
			}
			r.NextDate = next
		}
		t.Recurrence = &r
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// insertRecord runs the create preconditions for rec against its account,
// then inserts it and moves the balance inside tx.
func (c *Coordinator) insertRecord(ctx context.Context, tx store.Tx, rec core.Transaction) (core.Transaction, error) {
	acct, err := tx.GetAccount(ctx, rec.AccountID)
	if err != nil {
		return core.Transaction{}, err
	}
	if !acct.Active {
		return core.Transaction{}, core.NewError(core.KindInactive, "accountId", "account is not active")
	}
	if err := c.checkFunds(acct, acct.Balance, rec); err != nil {
		return core.Transaction{}, err
	}

	t := rec
	t.UserID = acct.UserID
	t.CreatedAt = c.now()
	t.UpdatedAt = t.CreatedAt
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return core.Transaction{}, err
	}
	if _, err := tx.AdjustBalance(ctx, acct.ID, t.Signed(), acct.Version); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// checkFunds evaluates the funds rules for t against available, the balance
// the account would hold without t.
func (c *Coordinator) checkFunds(acct core.Account, available core.Money, t core.Transaction) error {
	if t.Kind != core.Expense {
		return nil
	}
	if acct.Type == core.AccountCreditCard {
		if available.Sub(t.Amount).Less(c.creditLimit.Neg()) {
			return core.NewError(core.KindCreditLimitExceeded, "amount", "credit limit of "+c.creditLimit.String()+" exceeded")
		}
		return nil
	}
	if available.Less(t.Amount) {
		return core.NewError(core.KindInsufficientFunds, "amount", "insufficient funds")
	}
	return nil
}

// runUnit runs fn in an atomic unit, re-running it with backoff on version
// conflicts. Untyped failures come back as Aborted.
func (c *Coordinator) runUnit(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := c.store.WithAtomicUnit(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, core.ErrConflict) {
			c.logger.DebugContext(ctx, "Version conflict, retrying unit",
				log.FieldOperation, op, log.FieldAttempt, attempt)
			return err
		}
		return backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * time.Millisecond
	eb.MaxInterval = 50 * time.Millisecond
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retries)), ctx)

	err := backoff.Retry(operation, policy)
	if err == nil || core.IsDomain(err) {
		return err
	}
	return core.Aborted(op, err)
}

// accumulate applies delta to the budgets covering t after its commit. A
// failure is logged and turned into a reconcile request.
func (c *Coordinator) accumulate(ctx context.Context, t core.Transaction, delta core.Money, op string) {
	ctx = context.WithoutCancel(ctx)
	err := c.runUnit(ctx, log.OpRecalculate, func(tx store.Tx) error {
		return applyBudgetDelta(ctx, tx, t.UserID, t.CategoryID, t.Date, delta)
	})
	if err == nil {
		return
	}

	failure := &core.DomainError{Kind: core.KindBudgetUpdateFailed, Field: "budget", Message: "budget accumulation after " + op, Err: err}
	c.logger.ErrorContext(ctx, "Budget update failed, ledger committed",
		log.NewFields().WithOperation(op).WithTransaction(t).WithError(failure).ToSlice()...)

	if c.publisher == nil {
		return
	}
	req := core.ReconcileRequest{
		UserID:     t.UserID,
		CategoryID: t.CategoryID,
		Date:       t.Date,
		Reason:     failure.Error(),
		At:         c.now(),
	}
	if err := c.publisher.PublishReconcileRequest(ctx, req); err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish reconcile request",
			log.FieldTransactionID, t.ID, log.FieldError, err)
	}
}

func (c *Coordinator) publishLedgerEvent(ctx context.Context, typ core.EventType, t core.Transaction) {
	if c.publisher == nil {
		return
	}
	ev := core.LedgerEvent{
		Type:          typ,
		TransactionID: t.ID,
		UserID:        t.UserID,
		AccountID:     t.AccountID,
		Version:       t.Version,
		At:            c.now(),
	}
	if err := c.publisher.PublishLedgerEvent(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, string(typ), log.FieldTransactionID, t.ID, log.FieldError, err)
	}
}

func (c *Coordinator) committed(ctx context.Context, userID string) {
	if c.onCommit != nil {
		c.onCommit(ctx, userID)
	}
}
