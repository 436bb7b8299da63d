package backend

import (
	"context"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/services"
	"saldo/internal/sheets"
	"saldo/internal/store"
)

// Backend is a fully wired engine: one store and the services writing to
// and reading from it.
type Backend struct {
	Store       store.Store
	Coordinator *services.Coordinator
	Budgets     *services.BudgetService
	Queries     *services.QueryService
	Recurring   *services.RecurringProcessor
	Caches      *cache.Manager

	// AMQP is nil when no broker is configured or reachable.
	AMQP *amqp.Client
	// Mirror is nil when no spreadsheet is configured.
	Mirror sheets.LedgerMirror
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror, optional
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Engine tuning
	CreditLimit          core.Money
	ConflictRetries      int
	NetWorthCacheTTL     time.Duration
	ReconcileConcurrency int
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
