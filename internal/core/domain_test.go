package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDateAndDateOf(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil || !d.Equal(NewDate(2025, 3, 9)) {
		t.Fatalf("parse: %v %v", d, err)
	}
	if _, err := ParseDate("09/03/2025"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	late := time.Date(2025, 3, 9, 23, 59, 0, 0, time.FixedZone("x", -2*3600))
	if got := DateOf(late); !got.Equal(NewDate(2025, 3, 10)) {
		t.Fatalf("DateOf should use UTC day, got %s", got)
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		AccountID:     "acc",
		Amount:        Cents(100),
		Kind:          Expense,
		Description:   "ok",
		Date:          NewDate(2025, 1, 1),
		PaymentMethod: PayOther,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []func(*Transaction){
		func(tx *Transaction) { tx.Amount = Cents(0) },
		func(tx *Transaction) { tx.Kind = "transfer" },
		func(tx *Transaction) { tx.AccountID = " " },
		func(tx *Transaction) { tx.Description = strings.Repeat("x", 201) },
		func(tx *Transaction) { tx.Date = Date{} },
		func(tx *Transaction) { tx.PaymentMethod = "barter" },
		func(tx *Transaction) { tx.Recurrence = &Recurrence{Frequency: "hourly"} },
		func(tx *Transaction) {
			tx.Recurrence = &Recurrence{Frequency: Monthly, EndDate: NewDate(2024, 12, 1)}
		},
	}
	for i, mutate := range bads {
		tx := good
		mutate(&tx)
		if err := tx.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestTransactionDescriptionCountsCharacters(t *testing.T) {
	tests := []struct {
		name    string
		desc    string
		wantErr bool
	}{
		{"multibyte under limit", strings.Repeat("é", 150), false},
		{"multibyte at limit", strings.Repeat("€", MaxDescriptionLength), false},
		{"multibyte over limit", strings.Repeat("é", MaxDescriptionLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := Transaction{
				AccountID: "acc", Amount: Cents(100), Kind: Expense, Description: tt.desc,
				Date: NewDate(2025, 1, 1), PaymentMethod: PayOther,
			}
			if err := tx.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransactionSigned(t *testing.T) {
	in := Transaction{Amount: Cents(500), Kind: Income}
	out := Transaction{Amount: Cents(500), Kind: Expense, CategoryID: "food"}
	if in.Signed().Cents != 500 || out.Signed().Cents != -500 {
		t.Fatalf("signed: %v %v", in.Signed(), out.Signed())
	}
	if in.CountsTowardBudget() || !out.CountsTowardBudget() {
		t.Fatalf("budget eligibility is wrong")
	}
}

func TestRecurrenceExhausted(t *testing.T) {
	cases := []struct {
		name string
		r    Recurrence
		want bool
	}{
		{"unbounded", Recurrence{Frequency: Daily, NextDate: NewDate(2025, 1, 2)}, false},
		{"count reached", Recurrence{Frequency: Daily, NextDate: NewDate(2025, 1, 2), MaxOccurrences: 2, Generated: 2}, true},
		{"past end date", Recurrence{Frequency: Daily, NextDate: NewDate(2025, 2, 2), EndDate: NewDate(2025, 2, 1)}, true},
		{"on end date", Recurrence{Frequency: Daily, NextDate: NewDate(2025, 2, 1), EndDate: NewDate(2025, 2, 1)}, false},
		{"no next date", Recurrence{Frequency: Daily}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.Exhausted(); got != tc.want {
				t.Errorf("Exhausted() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBudgetValidateAndCovers(t *testing.T) {
	b := Budget{
		UserID:      "u1",
		StartDate:   NewDate(2025, 1, 1),
		EndDate:     NewDate(2025, 2, 1),
		TotalAmount: Cents(1000),
		Categories:  []CategoryAllocation{{CategoryID: "food", Allocated: Cents(500)}},
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if !b.Covers(NewDate(2025, 1, 1)) || !b.Covers(NewDate(2025, 1, 31)) {
		t.Fatalf("window should include start and last day")
	}
	if b.Covers(NewDate(2025, 2, 1)) || b.Covers(NewDate(2024, 12, 31)) {
		t.Fatalf("window end is exclusive")
	}

	dup := b
	dup.Categories = append(dup.Categories, CategoryAllocation{CategoryID: "food"})
	if err := dup.Validate(); err == nil {
		t.Fatalf("expected duplicate category error")
	}
	inverted := b
	inverted.EndDate = b.StartDate
	if err := inverted.Validate(); err == nil {
		t.Fatalf("expected window error")
	}
}

func TestPatchApply(t *testing.T) {
	orig := Transaction{
		ID: "t1", Amount: Cents(100), Kind: Expense, CategoryID: "food", Description: "old",
		Date: NewDate(2025, 1, 1), PaymentMethod: PayCash,
		Recurrence: &Recurrence{Frequency: Weekly, NextDate: NewDate(2025, 1, 8)},
	}
	desc := "new"
	p := TransactionPatch{Description: &desc}
	if p.TouchesBalance() || p.TouchesBudget() || p.IsEmpty() {
		t.Fatalf("description patch classified wrongly")
	}
	got := p.Apply(orig)
	if got.Description != "new" || got.Amount != orig.Amount || got.Recurrence == nil {
		t.Fatalf("unexpected apply: %+v", got)
	}

	cleared := TransactionPatch{ClearRecurrence: true}.Apply(orig)
	if cleared.Recurrence != nil || orig.Recurrence == nil {
		t.Fatalf("clear must not alias the original")
	}
}
