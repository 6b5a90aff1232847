// Package chase keeps the reminder index of invoices awaiting payment,
// ordered by their next chasing date. Settled invoices are withdrawn from the
// index and reinstated when settlement is cleared.
package chase

import (
	"context"
	"sort"
	"sync"
	"time"

	id "pandi/pkg/domain"
)

// Entry is one due reminder.
type Entry struct {
	InvoiceID id.InvoiceID `json:"invoice_id"`
	Due       time.Time    `json:"due"`
}

// Index orders invoices by chasing date. Schedule overwrites any existing
// entry for the invoice; Clear removes it; DueBefore lists entries due
// strictly before the cutoff, soonest first.
type Index interface {
	Schedule(ctx context.Context, invoiceID id.InvoiceID, due time.Time) error
	Clear(ctx context.Context, invoiceID id.InvoiceID) error
	DueBefore(ctx context.Context, cutoff time.Time) ([]Entry, error)
}

// Memory is the map-backed index for dev mode and unit tests.
type Memory struct {
	mu      sync.Mutex
	entries map[id.InvoiceID]time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[id.InvoiceID]time.Time)}
}

func (m *Memory) Schedule(_ context.Context, invoiceID id.InvoiceID, due time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[invoiceID] = due
	return nil
}

func (m *Memory) Clear(_ context.Context, invoiceID id.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, invoiceID)
	return nil
}

func (m *Memory) DueBefore(_ context.Context, cutoff time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for invoiceID, due := range m.entries {
		if due.Before(cutoff) {
			out = append(out, Entry{InvoiceID: invoiceID, Due: due})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Due.Equal(out[j].Due) {
			return out[i].Due.Before(out[j].Due)
		}
		return out[i].InvoiceID.String() < out[j].InvoiceID.String()
	})
	return out, nil
}
