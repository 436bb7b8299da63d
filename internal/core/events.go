package core

import "time"

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
)

type EventType string

// LedgerEvent announces a committed ledger mutation.
type LedgerEvent struct {
	Type          EventType
	TransactionID string
	UserID        string
	AccountID     string
	Version       int64
	At            time.Time
}

// ReconcileRequest asks for the budgets covering (user, category, date) to
// be recalculated from the ledger after a failed best-effort update.
type ReconcileRequest struct {
	UserID     string
	CategoryID string
	Date       Date
	Reason     string
	At         time.Time
}
