package sheets

import (
	"fmt"
	"strconv"
	"strings"

	"saldo/internal/core"
)

// Header is the first row of the mirror sheet.
var Header = []string{"ID", "Date", "Description", "Amount", "Kind", "Category", "Account", "Payment", "Version"}

// Row is one mirrored ledger record. Amount is signed: expenses are negative.
type Row struct {
	ID            string
	Date          core.Date
	Description   string
	Amount        core.Money
	Kind          core.Kind
	CategoryID    string
	AccountID     string
	PaymentMethod core.PaymentMethod
	Version       int64
}

// RowFromTransaction builds the mirror row of t.
func RowFromTransaction(t core.Transaction) Row {
	return Row{
		ID:            t.ID,
		Date:          t.Date,
		Description:   t.Description,
		Amount:        t.Signed(),
		Kind:          t.Kind,
		CategoryID:    t.CategoryID,
		AccountID:     t.AccountID,
		PaymentMethod: t.PaymentMethod,
		Version:       t.Version,
	}
}

// Values returns the cells in Header order.
func (r Row) Values() []any {
	return []any{
		r.ID,
		r.Date.String(),
		r.Description,
		r.Amount.String(),
		string(r.Kind),
		r.CategoryID,
		r.AccountID,
		string(r.PaymentMethod),
		r.Version,
	}
}

// ParseRow reads a row as returned by the Sheets API. Header and blank rows
// report ok=false without an error.
func ParseRow(cells []any) (row Row, ok bool, err error) {
	cols := toStrings(cells)
	if len(cols) == 0 || cols[0] == "" || strings.EqualFold(cols[0], Header[0]) {
		return Row{}, false, nil
	}
	if len(cols) < len(Header) {
		return Row{}, false, fmt.Errorf("row %s: expected %d columns, got %d", cols[0], len(Header), len(cols))
	}

	day, err := core.ParseDate(cols[1])
	if err != nil {
		return Row{}, false, fmt.Errorf("row %s: %w", cols[0], err)
	}
	// sheets may render amounts with a decimal comma
	amount, err := core.ParseMoney(strings.ReplaceAll(cols[3], ",", "."))
	if err != nil {
		return Row{}, false, fmt.Errorf("row %s: %w", cols[0], err)
	}
	version, err := strconv.ParseInt(cols[8], 10, 64)
	if err != nil {
		return Row{}, false, fmt.Errorf("row %s: version: %w", cols[0], err)
	}

	return Row{
		ID:            cols[0],
		Date:          day,
		Description:   cols[2],
		Amount:        amount,
		Kind:          core.Kind(cols[4]),
		CategoryID:    cols[5],
		AccountID:     cols[6],
		PaymentMethod: core.PaymentMethod(cols[7]),
		Version:       version,
	}, true, nil
}

// RowID returns the id cell of a raw row, or "" when there is none.
func RowID(cells []any) string {
	if len(cells) == 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(cells[0]))
}

// RowVersion returns the version cell of a raw row, or 0 when unreadable.
func RowVersion(cells []any) int64 {
	if len(cells) < len(Header) {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(cells[len(Header)-1])), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
