package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"saldo/internal/core"
	"saldo/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against q. Outside a unit q is the pool;
// inside a unit it is the open transaction.
type queries struct {
	q   querier
	now func() time.Time
}

var _ store.Tx = (*queries)(nil)

const accountColumns = `id, user_id, name, type, balance_cents, opening_balance_cents, active, version, created_at, updated_at`

const transactionColumns = `id, user_id, account_id, amount_cents, kind, category_id, description, date, payment_method,
	recurrence_frequency, recurrence_end_date, recurrence_next_date, recurrence_max_occurrences, recurrence_generated,
	version, created_at, updated_at`

const budgetColumns = `id, user_id, name, start_date, end_date, total_cents, active, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (core.Account, error) {
	var (
		a                core.Account
		typ              string
		balance, opening int64
		active           int
		created, updated int64
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Name, &typ, &balance, &opening, &active, &a.Version, &created, &updated); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.Balance = core.Cents(balance)
	a.OpeningBalance = core.Cents(opening)
	a.Active = active != 0
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return a, nil
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t                   core.Transaction
		amount              int64
		kind, day, pay      string
		freq, endDate, next sql.NullString
		maxOcc, generated   sql.NullInt64
		created, updated    int64
	)
	err := s.Scan(&t.ID, &t.UserID, &t.AccountID, &amount, &kind, &t.CategoryID, &t.Description, &day, &pay,
		&freq, &endDate, &next, &maxOcc, &generated, &t.Version, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Amount = core.Cents(amount)
	t.Kind = core.Kind(kind)
	t.PaymentMethod = core.PaymentMethod(pay)
	if t.Date, err = parseDate(day); err != nil {
		return core.Transaction{}, err
	}
	if freq.Valid {
		r := &core.Recurrence{
			Frequency:      core.Frequency(freq.String),
			MaxOccurrences: int(maxOcc.Int64),
			Generated:      int(generated.Int64),
		}
		if r.EndDate, err = parseDate(endDate.String); err != nil {
			return core.Transaction{}, err
		}
		if r.NextDate, err = parseDate(next.String); err != nil {
			return core.Transaction{}, err
		}
		t.Recurrence = r
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return t, nil
}

func scanBudget(s scanner) (core.Budget, error) {
	var (
		b                core.Budget
		start, end       string
		total            int64
		active           int
		created, updated int64
	)
	if err := s.Scan(&b.ID, &b.UserID, &b.Name, &start, &end, &total, &active, &b.Version, &created, &updated); err != nil {
		return core.Budget{}, err
	}
	var err error
	if b.StartDate, err = parseDate(start); err != nil {
		return core.Budget{}, err
	}
	if b.EndDate, err = parseDate(end); err != nil {
		return core.Budget{}, err
	}
	b.TotalAmount = core.Cents(total)
	b.Active = active != 0
	b.CreatedAt = time.Unix(0, created).UTC()
	b.UpdatedAt = time.Unix(0, updated).UTC()
	return b, nil
}

func parseDate(s string) (core.Date, error) {
	if s == "" {
		return core.Date{}, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return core.Date{}, fmt.Errorf("parse stored date %q: %w", s, err)
	}
	return core.Date{Time: d}, nil
}

func nullDate(d core.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// recurrenceArgs flattens r into the five nullable recurrence columns.
func recurrenceArgs(r *core.Recurrence) []any {
	if r == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	return []any{string(r.Frequency), nullDate(r.EndDate), nullDate(r.NextDate), r.MaxOccurrences, r.Generated}
}

func (q *queries) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("account", id)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (q *queries) ListAccountsByUser(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]core.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

func (q *queries) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.AccountID != "" {
		add("account_id = ?", f.AccountID)
	}
	if f.CategoryID != "" {
		add("category_id = ?", f.CategoryID)
	}
	if f.Kind != "" {
		add("kind = ?", string(f.Kind))
	}
	if !f.From.IsZero() {
		add("date >= ?", f.From.String())
	}
	if !f.To.IsZero() {
		add("date <= ?", f.To.String())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, created_at, id`
	return q.listTransactions(ctx, query, args...)
}

func (q *queries) ListDueRecurring(ctx context.Context, day core.Date) ([]core.Transaction, error) {
	return q.listTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE recurrence_frequency IS NOT NULL AND recurrence_next_date IS NOT NULL AND recurrence_next_date <= ?
		ORDER BY date, created_at, id`, day.String())
}

func (q *queries) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, core.NotFound("budget", id)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %s: %w", id, err)
	}
	if b.Categories, err = q.budgetCategories(ctx, b.ID); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

func (q *queries) ListBudgets(ctx context.Context, f store.BudgetFilter) ([]core.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE 1 = 1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY start_date, id`
	return q.listBudgets(ctx, query, args...)
}

func (q *queries) listBudgets(ctx context.Context, query string, args ...any) ([]core.Budget, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]core.Budget, 0)
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	// Categories load after the cursor is closed; a unit owns one connection.
	for i := range out {
		if out[i].Categories, err = q.budgetCategories(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (q *queries) budgetCategories(ctx context.Context, budgetID string) ([]core.CategoryAllocation, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT category_id, allocated_cents, spent_cents
		FROM budget_categories WHERE budget_id = ? ORDER BY rowid`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list budget categories: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryAllocation
	for rows.Next() {
		var (
			c                core.CategoryAllocation
			allocated, spent int64
		)
		if err := rows.Scan(&c.CategoryID, &allocated, &spent); err != nil {
			return nil, fmt.Errorf("scan budget category: %w", err)
		}
		c.Allocated = core.Cents(allocated)
		c.Spent = core.Cents(spent)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *queries) ListTransfers(ctx context.Context, accountID string) ([]core.Transfer, error) {
	query := `SELECT id, user_id, from_account_id, to_account_id, amount_cents, created_at FROM transfers`
	var args []any
	if accountID != "" {
		query += ` WHERE from_account_id = ? OR to_account_id = ?`
		args = append(args, accountID, accountID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	out := make([]core.Transfer, 0)
	for rows.Next() {
		var (
			t       core.Transfer
			amount  int64
			created int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.FromAccountID, &t.ToAccountID, &amount, &created); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.Amount = core.Cents(amount)
		t.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) AdjustBalance(ctx context.Context, id string, delta core.Money, expectedVersion int64) (core.Account, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents + ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		delta.Cents, q.now().UnixNano(), id, expectedVersion)
	if err != nil {
		return core.Account{}, fmt.Errorf("adjust balance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Account{}, fmt.Errorf("adjust balance %s: %w", id, err)
	}
	if n == 0 {
		// Either gone or moved on.
		if _, err := q.GetAccount(ctx, id); err != nil {
			return core.Account{}, err
		}
		return core.Account{}, core.Conflict("account", id)
	}
	return q.GetAccount(ctx, id)
}

func (q *queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	args := []any{t.ID, t.UserID, t.AccountID, t.Amount.Cents, string(t.Kind), t.CategoryID, t.Description,
		t.Date.String(), string(t.PaymentMethod)}
	args = append(args, recurrenceArgs(t.Recurrence)...)
	args = append(args, t.Version, t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())

	_, err := q.q.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *queries) PatchTransaction(ctx context.Context, id string, p core.TransactionPatch) (core.Transaction, error) {
	t, err := q.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	t = p.Apply(t)
	t.Version++
	t.UpdatedAt = q.now()

	args := []any{t.Amount.Cents, string(t.Kind), t.CategoryID, t.Description, t.Date.String(), string(t.PaymentMethod)}
	args = append(args, recurrenceArgs(t.Recurrence)...)
	args = append(args, t.Version, t.UpdatedAt.UnixNano(), id)

	_, err = q.q.ExecContext(ctx, `
		UPDATE transactions SET
			amount_cents = ?, kind = ?, category_id = ?, description = ?, date = ?, payment_method = ?,
			recurrence_frequency = ?, recurrence_end_date = ?, recurrence_next_date = ?,
			recurrence_max_occurrences = ?, recurrence_generated = ?,
			version = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("patch transaction %s: %w", id, err)
	}
	return t, nil
}

func (q *queries) DeleteTransaction(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if n == 0 {
		return core.NotFound("transaction", id)
	}
	return nil
}

func (q *queries) InsertTransfer(ctx context.Context, t core.Transfer) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO transfers (id, user_id, from_account_id, to_account_id, amount_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.FromAccountID, t.ToAccountID, t.Amount.Cents, t.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (q *queries) FindCoveringBudgets(ctx context.Context, userID, categoryID string, day core.Date) ([]core.Budget, error) {
	d := day.String()
	return q.listBudgets(ctx, `
		SELECT b.id, b.user_id, b.name, b.start_date, b.end_date, b.total_cents, b.active, b.version, b.created_at, b.updated_at
		FROM budgets b
		JOIN budget_categories c ON c.budget_id = b.id
		WHERE b.user_id = ? AND b.active = 1 AND c.category_id = ?
		  AND b.start_date <= ? AND b.end_date > ?
		ORDER BY b.start_date, b.id`, userID, categoryID, d, d)
}

func (q *queries) IncrementSpent(ctx context.Context, budgetID, categoryID string, delta core.Money) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE budget_categories SET spent_cents = MAX(0, spent_cents + ?)
		WHERE budget_id = ? AND category_id = ?`, delta.Cents, budgetID, categoryID)
	if err != nil {
		return fmt.Errorf("increment spent %s/%s: %w", budgetID, categoryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment spent %s/%s: %w", budgetID, categoryID, err)
	}
	if n == 0 {
		return core.NotFound("budget category", budgetID+"/"+categoryID)
	}
	return q.touchBudget(ctx, budgetID)
}

func (q *queries) SetSpent(ctx context.Context, budgetID string, spent map[string]core.Money) error {
	for categoryID, v := range spent {
		if v.IsNegative() {
			v = core.Money{}
		}
		_, err := q.q.ExecContext(ctx, `
			UPDATE budget_categories SET spent_cents = ?
			WHERE budget_id = ? AND category_id = ?`, v.Cents, budgetID, categoryID)
		if err != nil {
			return fmt.Errorf("set spent %s/%s: %w", budgetID, categoryID, err)
		}
	}
	return q.touchBudget(ctx, budgetID)
}

func (q *queries) touchBudget(ctx context.Context, budgetID string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE budgets SET version = version + 1, updated_at = ? WHERE id = ?`, q.now().UnixNano(), budgetID)
	if err != nil {
		return fmt.Errorf("touch budget %s: %w", budgetID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NotFound("budget", budgetID)
	}
	return nil
}
