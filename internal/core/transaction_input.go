package core

// NewTransaction carries the caller-supplied fields of a ledger record.
// Zero Date means today; empty PaymentMethod means PayOther.
type NewTransaction struct {
	AccountID     string
	Amount        Money
	Kind          Kind
	Description   string
	CategoryID    string
	Date          Date
	PaymentMethod PaymentMethod
	Recurrence    *Recurrence
}

// TransactionPatch lists the fields an update may change. Nil means
// untouched. The owning account is not patchable.
type TransactionPatch struct {
	Amount          *Money
	Kind            *Kind
	CategoryID      *string
	Description     *string
	Date            *Date
	PaymentMethod   *PaymentMethod
	Recurrence      *Recurrence
	ClearRecurrence bool
}

// TouchesBalance reports whether the patch may change the balance effect.
func (p TransactionPatch) TouchesBalance() bool {
	return p.Amount != nil || p.Kind != nil
}

// TouchesBudget reports whether the patch may move the budget contribution.
func (p TransactionPatch) TouchesBudget() bool {
	return p.Amount != nil || p.Kind != nil || p.CategoryID != nil || p.Date != nil
}

// IsEmpty reports whether nothing is patched.
func (p TransactionPatch) IsEmpty() bool {
	return p.Amount == nil && p.Kind == nil && p.CategoryID == nil && p.Description == nil &&
		p.Date == nil && p.PaymentMethod == nil && p.Recurrence == nil && !p.ClearRecurrence
}

// Apply returns t with the patch applied. It does not touch version or
// timestamps.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.PaymentMethod != nil {
		t.PaymentMethod = *p.PaymentMethod
	}
	switch {
	case p.ClearRecurrence:
		t.Recurrence = nil
	case p.Recurrence != nil:
		r := *p.Recurrence
		t.Recurrence = &r
	}
	return t
}
