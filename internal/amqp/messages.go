package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"saldo/internal/core"
)

// Message types carried in the AMQP Type property.
const (
	TypeLedgerEvent = "ledger.event"
	TypeReconcile   = "budget.reconcile"
)

// LedgerEventMessage is a lightweight notice of a committed ledger mutation.
// Consumers fetch the current record from the store; the message only says
// which record changed and how.
type LedgerEventMessage struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	AccountID     string    `json:"account_id"`
	Version       int64     `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEventMessage converts a ledger event into its wire form.
func NewLedgerEventMessage(e core.LedgerEvent) *LedgerEventMessage {
	ts := e.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &LedgerEventMessage{
		Event:         string(e.Type),
		TransactionID: e.TransactionID,
		UserID:        e.UserID,
		AccountID:     e.AccountID,
		Version:       e.Version,
		Timestamp:     ts,
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEvent converts the message back into a domain event.
func (m *LedgerEventMessage) LedgerEvent() core.LedgerEvent {
	return core.LedgerEvent{
		Type:          core.EventType(m.Event),
		TransactionID: m.TransactionID,
		UserID:        m.UserID,
		AccountID:     m.AccountID,
		Version:       m.Version,
		At:            m.Timestamp,
	}
}

// LedgerEventMessageFromJSON decodes and checks a ledger event message.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch core.EventType(msg.Event) {
	case core.EventTransactionCreated, core.EventTransactionUpdated, core.EventTransactionDeleted:
	default:
		return nil, fmt.Errorf("unknown ledger event %q", msg.Event)
	}
	if msg.TransactionID == "" {
		return nil, fmt.Errorf("ledger event without transaction id")
	}
	return &msg, nil
}

// ReconcileMessage asks the worker to rebuild the budgets covering a
// (user, category, date) triple.
type ReconcileMessage struct {
	UserID     string    `json:"user_id"`
	CategoryID string    `json:"category_id"`
	Date       string    `json:"date"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewReconcileMessage converts a reconcile request into its wire form.
func NewReconcileMessage(r core.ReconcileRequest) *ReconcileMessage {
	ts := r.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ReconcileMessage{
		UserID:     r.UserID,
		CategoryID: r.CategoryID,
		Date:       r.Date.String(),
		Reason:     r.Reason,
		Timestamp:  ts,
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReconcileMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReconcileRequest converts the message back into a domain request.
func (m *ReconcileMessage) ReconcileRequest() (core.ReconcileRequest, error) {
	day, err := core.ParseDate(m.Date)
	if err != nil {
		return core.ReconcileRequest{}, err
	}
	return core.ReconcileRequest{
		UserID:     m.UserID,
		CategoryID: m.CategoryID,
		Date:       day,
		Reason:     m.Reason,
		At:         m.Timestamp,
	}, nil
}

// ReconcileMessageFromJSON decodes a reconcile message.
func ReconcileMessageFromJSON(data []byte) (*ReconcileMessage, error) {
	var msg ReconcileMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" || msg.CategoryID == "" {
		return nil, fmt.Errorf("reconcile message needs user and category")
	}
	return &msg, nil
}
