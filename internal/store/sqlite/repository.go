// Package sqlite persists accounts, the ledger and budgets in a SQLite file.
//
// Atomic units map onto BEGIN IMMEDIATE transactions on a single connection,
// so writers are serialized by the database itself.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"saldo/internal/core"
	"saldo/internal/store"
)

var _ store.Store = (*Repository)(nil)

type Repository struct {
	db    *sql.DB
	reads *queries
	now   func() time.Time
}

// DSN builds the connection string used for dbPath.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// Open creates the database directory if needed, migrates the schema and
// returns a ready repository.
func Open(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	if err := RunMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{db: db, reads: &queries{q: db, now: time.Now}, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// WithAtomicUnit implements store.UnitOfWork.
func (r *Repository) WithAtomicUnit(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx, now: r.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	return nil
}

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	a, err := store.PrepareAccount(a, r.now())
	if err != nil {
		return core.Account{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, name, type, balance_cents, opening_balance_cents, active, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, string(a.Type), a.Balance.Cents, a.OpeningBalance.Cents,
		boolInt(a.Active), a.Version, a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (r *Repository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	b, err := store.PrepareBudget(b, r.now())
	if err != nil {
		return core.Budget{}, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Budget{}, fmt.Errorf("begin budget insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO budgets (id, user_id, name, start_date, end_date, total_cents, active, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Name, b.StartDate.String(), b.EndDate.String(), b.TotalAmount.Cents,
		boolInt(b.Active), b.Version, b.CreatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	if err != nil {
		return core.Budget{}, fmt.Errorf("insert budget: %w", err)
	}
	for _, c := range b.Categories {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO budget_categories (budget_id, category_id, allocated_cents, spent_cents)
			VALUES (?, ?, ?, ?)`,
			b.ID, c.CategoryID, c.Allocated.Cents, c.Spent.Cents)
		if err != nil {
			return core.Budget{}, fmt.Errorf("insert budget category %s: %w", c.CategoryID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.Budget{}, fmt.Errorf("commit budget insert: %w", err)
	}
	return b, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *Repository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	return r.reads.GetAccount(ctx, id)
}

func (r *Repository) ListAccountsByUser(ctx context.Context, userID string) ([]core.Account, error) {
	return r.reads.ListAccountsByUser(ctx, userID)
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return r.reads.GetTransaction(ctx, id)
}

func (r *Repository) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	return r.reads.ListTransactions(ctx, f)
}

func (r *Repository) ListDueRecurring(ctx context.Context, day core.Date) ([]core.Transaction, error) {
	return r.reads.ListDueRecurring(ctx, day)
}

func (r *Repository) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	return r.reads.GetBudget(ctx, id)
}

func (r *Repository) ListBudgets(ctx context.Context, f store.BudgetFilter) ([]core.Budget, error) {
	return r.reads.ListBudgets(ctx, f)
}

func (r *Repository) ListTransfers(ctx context.Context, accountID string) ([]core.Transfer, error) {
	return r.reads.ListTransfers(ctx, accountID)
}
