package chase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "pandi/pkg/domain"
)

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	index := NewMemory()

	early := id.InvoiceID(uuid.New())
	late := id.InvoiceID(uuid.New())
	future := id.InvoiceID(uuid.New())

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, index.Schedule(ctx, late, base.AddDate(0, 0, 5)))
	require.NoError(t, index.Schedule(ctx, early, base))
	require.NoError(t, index.Schedule(ctx, future, base.AddDate(0, 1, 0)))

	entries, err := index.DueBefore(ctx, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, early, entries[0].InvoiceID)
	assert.Equal(t, late, entries[1].InvoiceID)
}

func TestMemoryIndexCutoffIsExclusive(t *testing.T) {
	ctx := context.Background()
	index := NewMemory()

	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	invoiceID := id.InvoiceID(uuid.New())
	require.NoError(t, index.Schedule(ctx, invoiceID, due))

	entries, err := index.DueBefore(ctx, due)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = index.DueBefore(ctx, due.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryIndexRescheduleAndClear(t *testing.T) {
	ctx := context.Background()
	index := NewMemory()

	invoiceID := id.InvoiceID(uuid.New())
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, index.Schedule(ctx, invoiceID, base))
	require.NoError(t, index.Schedule(ctx, invoiceID, base.AddDate(0, 0, 7)))

	entries, err := index.DueBefore(ctx, base.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, base.AddDate(0, 0, 7), entries[0].Due)

	require.NoError(t, index.Clear(ctx, invoiceID))
	entries, err = index.DueBefore(ctx, base.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Clearing an absent invoice is a no-op.
	require.NoError(t, index.Clear(ctx, invoiceID))
}
