package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

const dateLayout = "2006-01-02"

const MaxDescriptionLength = 200

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	AccountCash       AccountType = "cash"
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCreditCard AccountType = "credit_card"
	AccountInvestment AccountType = "investment"
	AccountOther      AccountType = "other"
)

const (
	PayCash         PaymentMethod = "cash"
	PayDebitCard    PaymentMethod = "debit_card"
	PayCreditCard   PaymentMethod = "credit_card"
	PayBankTransfer PaymentMethod = "bank_transfer"
	PayOther        PaymentMethod = "other"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

type (
	Kind          string
	AccountType   string
	PaymentMethod string
	Frequency     string

	// Date is a calendar day in UTC.
	Date struct {
		time.Time
	}

	Account struct {
		ID             string
		UserID         string
		Name           string
		Type           AccountType
		Balance        Money
		OpeningBalance Money
		Active         bool
		Version        int64
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// Recurrence describes how a ledger record repeats. NextDate is the next
	// occurrence still to be materialized.
	Recurrence struct {
		Frequency      Frequency
		EndDate        Date
		NextDate       Date
		MaxOccurrences int // 0 means no limit
		Generated      int
	}

	Transaction struct {
		ID            string
		UserID        string
		AccountID     string
		Amount        Money
		Kind          Kind
		CategoryID    string
		Description   string
		Date          Date
		PaymentMethod PaymentMethod
		Recurrence    *Recurrence
		Version       int64
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// Transfer is a pure balance movement between two accounts. It is kept in
	// its own journal so balances stay replayable; it is not a ledger record.
	Transfer struct {
		ID            string
		UserID        string
		FromAccountID string
		ToAccountID   string
		Amount        Money
		CreatedAt     time.Time
	}

	CategoryAllocation struct {
		CategoryID string
		Allocated  Money
		Spent      Money
	}

	// Budget covers the half-open window [StartDate, EndDate).
	Budget struct {
		ID          string
		UserID      string
		Name        string
		StartDate   Date
		EndDate     Date
		TotalAmount Money
		Active      bool
		Categories  []CategoryAllocation
		Version     int64
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}
)

func (k Kind) Valid() bool { return k == Income || k == Expense }

func (t AccountType) Valid() bool {
	switch t {
	case AccountCash, AccountChecking, AccountSavings, AccountCreditCard, AccountInvestment, AccountOther:
		return true
	}
	return false
}

func (p PaymentMethod) Valid() bool {
	switch p {
	case PayCash, PayDebitCard, PayCreditCard, PayBankTransfer, PayOther:
		return true
	}
	return false
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// Today returns the current UTC day.
func Today() Date { return DateOf(time.Now()) }

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, NewError(KindInvalidInput, "date", "date must be YYYY-MM-DD")
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// Day returns the day of the month
func (d Date) Day() int { return d.Time.Day() }

// Month returns the month
func (d Date) Month() int { return int(d.Time.Month()) }

// Year returns the year
func (d Date) Year() int { return d.Time.Year() }

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is a later day than o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// Validate rejects the zero date.
func (d Date) Validate() error {
	if d.IsZero() {
		return NewError(KindInvalidInput, "date", "date cannot be zero")
	}
	return nil
}

// Signed returns the balance effect of t on its account.
func (t Transaction) Signed() Money {
	if t.Kind == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// CountsTowardBudget reports whether t contributes to budget spent amounts.
func (t Transaction) CountsTowardBudget() bool {
	return t.Kind == Expense && t.CategoryID != ""
}

func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Kind.Valid() {
		return NewError(KindInvalidInput, "kind", "kind must be income or expense")
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return NewError(KindInvalidInput, "accountId", "account is required")
	}
	if utf8.RuneCountInString(t.Description) > MaxDescriptionLength {
		return NewError(KindInvalidInput, "description", "description too long (max 200 characters)")
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if !t.PaymentMethod.Valid() {
		return NewError(KindInvalidInput, "paymentMethod", "unknown payment method")
	}
	if t.Recurrence != nil {
		if err := t.Recurrence.Validate(t.Date); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a recurrence attached to a record dated start.
func (r Recurrence) Validate(start Date) error {
	if !r.Frequency.Valid() {
		return NewError(KindInvalidInput, "recurrence.frequency", "invalid repetition type")
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(start) {
		return NewError(KindInvalidInput, "recurrence.endDate", "end date must not be before the transaction date")
	}
	if r.MaxOccurrences < 0 || r.Generated < 0 {
		return NewError(KindInvalidInput, "recurrence.maxOccurrences", "occurrence counts cannot be negative")
	}
	return nil
}

// Exhausted reports whether no further occurrence may be materialized.
func (r Recurrence) Exhausted() bool {
	if r.MaxOccurrences > 0 && r.Generated >= r.MaxOccurrences {
		return true
	}
	if r.NextDate.IsZero() {
		return true
	}
	return !r.EndDate.IsZero() && r.NextDate.After(r.EndDate)
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return NewError(KindInvalidInput, "userId", "user is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return NewError(KindInvalidInput, "name", "name is required")
	}
	if !a.Type.Valid() {
		return NewError(KindInvalidInput, "type", "unknown account type")
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return NewError(KindInvalidInput, "userId", "user is required")
	}
	if err := b.StartDate.Validate(); err != nil {
		return err
	}
	if !b.EndDate.After(b.StartDate) {
		return NewError(KindInvalidInput, "endDate", "end date must be after start date")
	}
	if b.TotalAmount.IsNegative() {
		return NewError(KindInvalidAmount, "totalAmount", "total amount cannot be negative")
	}
	seen := make(map[string]struct{}, len(b.Categories))
	for _, c := range b.Categories {
		if strings.TrimSpace(c.CategoryID) == "" {
			return NewError(KindInvalidInput, "categories", "category is required")
		}
		if _, dup := seen[c.CategoryID]; dup {
			return NewError(KindInvalidInput, "categories", "duplicate category "+c.CategoryID)
		}
		seen[c.CategoryID] = struct{}{}
		if c.Allocated.IsNegative() {
			return NewError(KindInvalidAmount, "categories", "allocated amount cannot be negative")
		}
	}
	return nil
}

// Covers reports whether d falls inside the budget window.
func (b Budget) Covers(d Date) bool {
	return !d.Before(b.StartDate) && d.Before(b.EndDate)
}

// Allocation returns the allocation for categoryID.
func (b Budget) Allocation(categoryID string) (CategoryAllocation, bool) {
	for _, c := range b.Categories {
		if c.CategoryID == categoryID {
			return c, true
		}
	}
	return CategoryAllocation{}, false
}
