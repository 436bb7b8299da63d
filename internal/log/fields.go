package log

import "saldo/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldErrorKind     = "error_kind"
	FieldOperation     = "operation"
	FieldDuration      = "duration_ms"
	FieldUserID        = "user_id"
	FieldAccountID     = "account_id"
	FieldTransactionID = "transaction_id"
	FieldBudgetID      = "budget_id"
	FieldCategoryID    = "category_id"
	FieldAmountCents   = "amount_cents"
	FieldKind          = "kind"
	FieldDate          = "date"
	FieldAttempt       = "attempt"
	FieldEventType     = "event_type"
	FieldSheetsRef     = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentCoordinator = "coordinator"
	ComponentBudget      = "budget"
	ComponentQuery       = "query"
	ComponentRecurring   = "recurring"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentSheets      = "sheets"
	ComponentCache       = "cache"
	ComponentBackend     = "backend"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpTransfer    = "transfer"
	OpRecalculate = "recalculate"
	OpReconcile   = "reconcile"
	OpRecurring   = "recurring"
	OpSync        = "sync"
	OpPublish     = "publish"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds the error and, for domain errors, its kind
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorKind] = string(core.KindOf(err))
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTransaction adds ledger record fields
func (f LogFields) WithTransaction(t core.Transaction) LogFields {
	f[FieldTransactionID] = t.ID
	f[FieldAccountID] = t.AccountID
	f[FieldUserID] = t.UserID
	f[FieldAmountCents] = t.Amount.Cents
	f[FieldKind] = string(t.Kind)
	if t.CategoryID != "" {
		f[FieldCategoryID] = t.CategoryID
	}
	return f
}

// WithBudget adds the budget id
func (f LogFields) WithBudget(id string) LogFields {
	f[FieldBudgetID] = id
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
