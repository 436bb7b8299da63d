package sheets

import (
	"context"

	"saldo/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerMirror keeps a spreadsheet copy of the ledger. Writes are
	// idempotent and keyed by transaction id; a row never goes back to an
	// older version.
	LedgerMirror interface {
		UpsertTransaction(ctx context.Context, t core.Transaction) (rowRef string, err error)
		RemoveTransaction(ctx context.Context, id string) error
	}

	// LedgerLister returns every mirrored row in sheet order.
	LedgerLister interface {
		ListRows(ctx context.Context) ([]Row, error)
	}
)
