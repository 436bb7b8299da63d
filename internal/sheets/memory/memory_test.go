package memory

import (
	"context"
	"testing"

	"saldo/internal/core"
)

func tx(id string, version int64, cents int64) core.Transaction {
	return core.Transaction{
		ID: id, AccountID: "a1", Amount: core.Cents(cents), Kind: core.Income,
		Date: core.NewDate(2024, 1, 15), Version: version,
	}
}

func TestMirrorUpsertKeepsNewestVersion(t *testing.T) {
	ctx := context.Background()
	m := New()

	if _, err := m.UpsertTransaction(ctx, tx("t1", 2, 500)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := m.UpsertTransaction(ctx, tx("t1", 1, 100)); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	row, ok := m.Row("t1")
	if !ok || row.Version != 2 || row.Amount.Cents != 500 {
		t.Fatalf("stale write applied: %+v", row)
	}

	if _, err := m.UpsertTransaction(ctx, tx("t1", 3, 700)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if row, _ := m.Row("t1"); row.Amount.Cents != 700 {
		t.Fatalf("newer write not applied: %+v", row)
	}
}

func TestMirrorRemoveAndList(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.UpsertTransaction(ctx, tx(id, 1, 100)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	if err := m.RemoveTransaction(ctx, "b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.RemoveTransaction(ctx, "missing"); err != nil {
		t.Fatalf("removing a missing row should be a no-op: %v", err)
	}

	rows, err := m.ListRows(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "a" || rows[1].ID != "c" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestMirrorRejectsMissingID(t *testing.T) {
	if _, err := New().UpsertTransaction(context.Background(), core.Transaction{}); err == nil {
		t.Fatal("expected error for transaction without id")
	}
}
