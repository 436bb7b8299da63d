package memory

import (
	"context"
	"fmt"
	"sync"

	"saldo/internal/core"
	ports "saldo/internal/sheets"
)

// Mirror is an in-process LedgerMirror used when no spreadsheet is
// configured and in tests.
type Mirror struct {
	mu    sync.Mutex
	order []string
	rows  map[string]ports.Row
}

var (
	_ ports.LedgerMirror = (*Mirror)(nil)
	_ ports.LedgerLister = (*Mirror)(nil)
)

func New() *Mirror {
	return &Mirror{rows: make(map[string]ports.Row)}
}

// UpsertTransaction stores the row of t unless a newer version is present.
func (m *Mirror) UpsertTransaction(_ context.Context, t core.Transaction) (string, error) {
	if t.ID == "" {
		return "", fmt.Errorf("transaction without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rows[t.ID]
	if !ok {
		m.order = append(m.order, t.ID)
	} else if existing.Version > t.Version {
		return "mem:" + t.ID, nil
	}
	m.rows[t.ID] = ports.RowFromTransaction(t)
	return "mem:" + t.ID, nil
}

// RemoveTransaction drops the row of id if present.
func (m *Mirror) RemoveTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return nil
	}
	delete(m.rows, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListRows returns rows in insertion order.
func (m *Mirror) ListRows(_ context.Context) ([]ports.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.Row, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rows[id])
	}
	return out, nil
}

// Row returns the row of id.
func (m *Mirror) Row(id string) (ports.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}
